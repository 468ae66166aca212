package external

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/fossil-labs/proof-hub/config"
)

// IClient is the Ethereum read surface the proof pipeline needs: headers for
// state roots and eth_getProof for trie proofs. One shared client instance is
// injected into every component at construction.
type IClient interface {
	GetBlockHeader(ctx context.Context, height uint64) (*types.Header, error)
	GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*gethclient.AccountResult, error)
	GetFinalizedBlockNum(ctx context.Context) (uint64, error)
}

type Client struct {
	ethClient  *ethclient.Client
	gethClient *gethclient.Client
	cfg        *config.EthConfig
}

func NewClient(cfg *config.EthConfig) IClient {
	rpcClient, err := rpc.Dial(cfg.RPCAddrs[0])
	if err != nil {
		panic("new eth rpc client error")
	}
	return &Client{
		cfg:        cfg,
		ethClient:  ethclient.NewClient(rpcClient),
		gethClient: gethclient.New(rpcClient),
	}
}

func (c *Client) GetBlockHeader(ctx context.Context, height uint64) (*types.Header, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (c *Client) GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*gethclient.AccountResult, error) {
	return c.gethClient.GetProof(ctx, account, keys, blockNumber)
}

func (c *Client) GetFinalizedBlockNum(ctx context.Context) (uint64, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
	if err != nil {
		return 0, err
	}
	if header == nil || header.Number == nil {
		return 0, ethereum.NotFound
	}
	return header.Number.Uint64(), nil
}
