package prover

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fossil-labs/proof-hub/external"
	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/types"
)

// Producer generates registry-ready proofs from an Ethereum node. A proof is
// only meaningful once the block's state root has been relayed, sequencing is
// the orchestrator's job.
type Producer interface {
	AccountProof(ctx context.Context, blockNumber uint64, account common.Address) (*types.AccountProof, error)
	StorageProof(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (*types.StorageProof, error)
}

type EthProducer struct {
	client external.IClient
}

func NewEthProducer(client external.IClient) Producer {
	return &EthProducer{client: client}
}

func (p *EthProducer) AccountProof(ctx context.Context, blockNumber uint64, account common.Address) (*types.AccountProof, error) {
	result, err := p.client.GetProof(ctx, account, nil, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, classifyProofErr(err)
	}
	if len(result.AccountProof) == 0 {
		return nil, types.Rejected(fmt.Errorf("empty account proof for %s at block %d", account.Hex(), blockNumber))
	}
	words, sizedBytes, err := flattenNodes(result.AccountProof)
	if err != nil {
		return nil, types.Rejected(err)
	}
	return &types.AccountProof{
		BlockNumber: blockNumber,
		Address:     account,
		Balance:     result.Balance.String(),
		Nonce:       result.Nonce,
		CodeHash:    result.CodeHash.Hex(),
		StorageHash: result.StorageHash.Hex(),
		Words:       words,
		SizedBytes:  sizedBytes,
	}, nil
}

func (p *EthProducer) StorageProof(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (*types.StorageProof, error) {
	result, err := p.client.GetProof(ctx, account, []string{slot.Hex()}, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, classifyProofErr(err)
	}
	if len(result.StorageProof) == 0 {
		return nil, types.Rejected(fmt.Errorf("empty storage proof for %s slot %s at block %d", account.Hex(), slot.Hex(), blockNumber))
	}
	sp := result.StorageProof[0]
	words, sizedBytes, err := flattenNodes(sp.Proof)
	if err != nil {
		return nil, types.Rejected(err)
	}
	logging.Logger.Debugf("produced storage proof, account=%s, slot=%s, nodes=%d", account.Hex(), slot.Hex(), len(sizedBytes))
	return &types.StorageProof{
		BlockNumber: blockNumber,
		Address:     account,
		Slot:        slot,
		Value:       common.BigToHash(sp.Value).Hex(),
		Words:       words,
		SizedBytes:  sizedBytes,
	}, nil
}

// classifyProofErr maps eth_getProof errors. A missing header is a definitive
// negative answer, everything else is assumed to be a node hiccup.
func classifyProofErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "header not found") || strings.Contains(msg, "missing trie node") ||
		strings.Contains(msg, "unknown block") {
		return types.NotFound(err)
	}
	return types.Transient(err)
}
