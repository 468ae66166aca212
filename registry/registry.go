package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fossil-labs/proof-hub/external/starknet"
	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/types"
	"github.com/fossil-labs/proof-hub/util"
)

// Fact registry contract entry points.
const (
	entryProveAccount          = "prove_account"
	entryProveStorage          = "prove_storage"
	entryGetStorage            = "get_storage"
	entryGetAccountStorageHash = "get_verified_account_storage_hash"
)

// Registry is the client of the fact registry contract on Starknet. Queries
// are read-only calls; submits are invoke transactions awaited until the
// receipt carries a terminal execution status.
type Registry interface {
	QueryAccount(ctx context.Context, blockNumber uint64, account common.Address) (storageHash string, ok bool, err error)
	QueryStorage(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (value string, ok bool, err error)
	SubmitAccountProof(ctx context.Context, proof *types.AccountProof) error
	SubmitStorageProof(ctx context.Context, proof *types.StorageProof) error
}

type Client struct {
	sn           *starknet.Client
	contractAddr string
}

func NewClient(sn *starknet.Client, contractAddr string) Registry {
	return &Client{sn: sn, contractAddr: contractAddr}
}

func (c *Client) QueryAccount(ctx context.Context, blockNumber uint64, account common.Address) (string, bool, error) {
	calldata := []string{util.Uint64ToHex(blockNumber), account.Hex()}
	out, err := c.sn.Call(ctx, c.contractAddr, starknet.SelectorFromName(entryGetAccountStorageHash), calldata)
	if err != nil {
		return "", false, classifyCallErr(err)
	}
	if len(out) < 2 {
		return "", false, types.Rejected(fmt.Errorf("unexpected %s result arity %d", entryGetAccountStorageHash, len(out)))
	}
	hash, err := util.CombineHighLow(out[0], out[1])
	if err != nil {
		return "", false, types.Rejected(err)
	}
	if hash == (common.Hash{}) {
		// zero storage hash means the account fact is not registered yet
		return "", false, nil
	}
	return hash.Hex(), true, nil
}

func (c *Client) QueryStorage(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (string, bool, error) {
	slotLow, slotHigh := util.SplitHighLow(slot)
	calldata := []string{
		util.Uint64ToHex(blockNumber),
		account.Hex(),
		slotLow.Hex(),
		slotHigh.Hex(),
	}
	out, err := c.sn.Call(ctx, c.contractAddr, starknet.SelectorFromName(entryGetStorage), calldata)
	if err != nil {
		if isNotProvenRevert(err) {
			return "", false, nil
		}
		return "", false, classifyCallErr(err)
	}
	if len(out) < 2 {
		return "", false, types.Rejected(fmt.Errorf("unexpected %s result arity %d", entryGetStorage, len(out)))
	}
	value, err := util.CombineHighLow(out[0], out[1])
	if err != nil {
		return "", false, types.Rejected(err)
	}
	return value.Hex(), true, nil
}

func (c *Client) SubmitAccountProof(ctx context.Context, proof *types.AccountProof) error {
	calldata := make([]string, 0, len(proof.SizedBytes)+len(proof.Words)+4)
	calldata = append(calldata, util.Uint64ToHex(proof.BlockNumber), proof.Address.Hex())
	calldata = appendWordSequence(calldata, proof.Words, proof.SizedBytes)
	err := c.submit(ctx, entryProveAccount, calldata)
	if err != nil {
		return err
	}
	logging.Logger.Infof("account proof accepted on registry, account=%s, block=%d", proof.Address.Hex(), proof.BlockNumber)
	return nil
}

func (c *Client) SubmitStorageProof(ctx context.Context, proof *types.StorageProof) error {
	slotLow, slotHigh := util.SplitHighLow(proof.Slot)
	calldata := make([]string, 0, len(proof.SizedBytes)+len(proof.Words)+6)
	calldata = append(calldata, util.Uint64ToHex(proof.BlockNumber), proof.Address.Hex(), slotLow.Hex(), slotHigh.Hex())
	calldata = appendWordSequence(calldata, proof.Words, proof.SizedBytes)
	err := c.submit(ctx, entryProveStorage, calldata)
	if err != nil {
		return err
	}
	logging.Logger.Infof("storage proof accepted on registry, account=%s, slot=%s, block=%d",
		proof.Address.Hex(), proof.Slot.Hex(), proof.BlockNumber)
	return nil
}

func (c *Client) submit(ctx context.Context, entryPoint string, calldata []string) error {
	txHash, err := c.sn.Invoke(ctx, c.contractAddr, starknet.SelectorFromName(entryPoint), calldata)
	if err != nil {
		return classifyCallErr(err)
	}
	receipt, err := c.sn.WaitForReceipt(ctx, txHash)
	if err != nil {
		return types.Transient(err)
	}
	if receipt.ExecutionStatus == starknet.ExecutionStatusReverted {
		return classifyRevert(receipt.RevertReason)
	}
	return nil
}

// appendWordSequence encodes the length-prefixed node sizes and proof words.
func appendWordSequence(calldata []string, words []uint64, sizedBytes []int) []string {
	calldata = append(calldata, fmt.Sprintf("0x%x", len(sizedBytes)))
	for _, n := range sizedBytes {
		calldata = append(calldata, fmt.Sprintf("0x%x", n))
	}
	calldata = append(calldata, fmt.Sprintf("0x%x", len(words)))
	for _, w := range words {
		calldata = append(calldata, fmt.Sprintf("0x%x", w))
	}
	return calldata
}

func isNotProvenRevert(err error) bool {
	var rpcErr *starknet.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "not proven") || strings.Contains(msg, "no storage fact")
}

// classifyCallErr maps JSON-RPC failures: node-side contract errors are
// explicit refusals, everything else is transport trouble worth a retry.
func classifyCallErr(err error) error {
	var rpcErr *starknet.RPCError
	if errors.As(err, &rpcErr) {
		return types.Rejected(err)
	}
	return types.Transient(err)
}

// classifyRevert maps the revert reason of a landed-but-reverted submission.
// A duplicate proof is success. A storage proof rejected because the account
// fact is missing is a sequencing defect, never retried.
func classifyRevert(reason string) error {
	msg := strings.ToLower(reason)
	switch {
	case strings.Contains(msg, "already proven") || strings.Contains(msg, "fact already registered"):
		return types.AlreadySatisfied(errors.New(reason))
	case strings.Contains(msg, "account not proven") || strings.Contains(msg, "storage hash not registered"):
		return types.InvariantViolation(errors.New(reason))
	default:
		return types.Rejected(errors.New(reason))
	}
}
