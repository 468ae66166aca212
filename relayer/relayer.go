package relayer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fossil-labs/proof-hub/external"
	"github.com/fossil-labs/proof-hub/external/starknet"
	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/types"
	"github.com/fossil-labs/proof-hub/util"
)

// L1 headers store contract entry points.
const (
	entryStoreStateRoot = "store_state_root"
	entryGetStateRoot   = "get_state_root"
)

// Relayer makes a block's Ethereum state root available on Starknet. Relay is
// idempotent on success: a root already present in the headers store is
// returned without a second submission.
type Relayer interface {
	Relay(ctx context.Context, blockNumber uint64) (stateRoot string, err error)
}

type HeaderRelayer struct {
	eth       external.IClient
	sn        *starknet.Client
	storeAddr string
}

func NewHeaderRelayer(eth external.IClient, sn *starknet.Client, storeAddr string) Relayer {
	return &HeaderRelayer{eth: eth, sn: sn, storeAddr: storeAddr}
}

func (r *HeaderRelayer) Relay(ctx context.Context, blockNumber uint64) (string, error) {
	// a root relayed before finality could be reorged away under the facts
	// anchored to it
	finalized, err := r.eth.GetFinalizedBlockNum(ctx)
	if err != nil {
		return "", types.Transient(err)
	}
	if blockNumber > finalized {
		return "", types.Transient(fmt.Errorf("block %d is not finalized yet, head=%d", blockNumber, finalized))
	}

	header, err := r.eth.GetBlockHeader(ctx, blockNumber)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return "", types.NotFound(err)
		}
		return "", types.Transient(err)
	}
	stateRoot := header.Root

	if onChain, err := r.storedStateRoot(ctx, blockNumber); err == nil && onChain == stateRoot.Hex() {
		return onChain, nil
	}

	rootLow, rootHigh := util.SplitHighLow(stateRoot)
	calldata := []string{
		util.Uint64ToHex(blockNumber),
		rootLow.Hex(),
		rootHigh.Hex(),
	}
	txHash, err := r.sn.Invoke(ctx, r.storeAddr, starknet.SelectorFromName(entryStoreStateRoot), calldata)
	if err != nil {
		var rpcErr *starknet.RPCError
		if errors.As(err, &rpcErr) {
			return "", types.Rejected(err)
		}
		return "", types.Transient(err)
	}
	receipt, err := r.sn.WaitForReceipt(ctx, txHash)
	if err != nil {
		return "", types.Transient(err)
	}
	if receipt.ExecutionStatus == starknet.ExecutionStatusReverted {
		if strings.Contains(strings.ToLower(receipt.RevertReason), "already") {
			logging.Logger.Infof("state root for block %d already stored", blockNumber)
			return stateRoot.Hex(), nil
		}
		return "", types.Rejected(errors.New(receipt.RevertReason))
	}

	// read back what actually landed, the store is the source of truth
	onChain, err := r.storedStateRoot(ctx, blockNumber)
	if err != nil {
		return "", types.Transient(err)
	}
	if onChain != stateRoot.Hex() {
		return "", types.Rejected(fmt.Errorf("stored state root mismatch for block %d: store=%s header=%s", blockNumber, onChain, stateRoot.Hex()))
	}
	logging.Logger.Infof("relayed state root, block=%d, root=%s, tx=%s", blockNumber, stateRoot.Hex(), txHash)
	return stateRoot.Hex(), nil
}

func (r *HeaderRelayer) storedStateRoot(ctx context.Context, blockNumber uint64) (string, error) {
	out, err := r.sn.Call(ctx, r.storeAddr, starknet.SelectorFromName(entryGetStateRoot), []string{util.Uint64ToHex(blockNumber)})
	if err != nil {
		return "", err
	}
	if len(out) < 2 {
		return "", fmt.Errorf("unexpected %s result arity %d", entryGetStateRoot, len(out))
	}
	root, err := util.CombineHighLow(out[0], out[1])
	if err != nil {
		return "", err
	}
	return root.Hex(), nil
}
