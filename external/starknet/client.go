package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrTxNotFound = errors.New("transaction not found on starknet")
)

const (
	ExecutionStatusSucceeded = "SUCCEEDED"
	ExecutionStatusReverted  = "REVERTED"

	receiptPollInterval = 2 * time.Second
)

// Signer produces the signature felts of an invoke transaction. Stark curve
// mechanics live behind this interface; deployments plug in an external
// signing sidecar or a key-manager backed implementation.
type Signer interface {
	Sign(txHash string) ([]string, error)
}

// Client is a thin JSON-RPC client for a Starknet node. It covers the three
// interactions the proof pipeline needs: read-only contract calls, invoke
// submission and receipt polling.
type Client struct {
	hc          *http.Client
	endpoint    string
	accountAddr string
	signer      Signer
}

func NewClient(endpoint, accountAddr string, signer Signer) (*Client, error) {
	transport := &http.Transport{
		DisableCompression:  true,
		MaxIdleConnsPerHost: 1000,
		MaxConnsPerHost:     1000,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{
		Timeout:   10 * time.Minute,
		Transport: transport,
	}
	return &Client{hc: client, endpoint: endpoint, accountAddr: accountAddr, signer: signer}, nil
}

type rpcRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Id      int64       `json:"id"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	Id      int64           `json:"id"`
}

// RPCError is the node-side error of a JSON-RPC exchange. Contract reverts on
// read calls surface here with the revert reason in Message.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("starknet rpc error %d: %s", e.Code, e.Message)
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type invokeTxn struct {
	Type          string   `json:"type"`
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	MaxFee        string   `json:"max_fee"`
	Version       string   `json:"version"`
	Signature     []string `json:"signature"`
	Nonce         string   `json:"nonce"`
}

// TxReceipt is the subset of starknet_getTransactionReceipt the pipeline
// inspects for confirmation.
type TxReceipt struct {
	TransactionHash string `json:"transaction_hash"`
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason"`
}

func (c *Client) do(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(&rpcRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      1,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-OK response status: %s", resp.Status)
	}
	respBz, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	rpcResp := rpcResponse{}
	if err = json.Unmarshal(respBz, &rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

// Call performs a read-only starknet_call against a contract at the latest block.
func (c *Client) Call(ctx context.Context, contractAddr, entryPointSelector string, calldata []string) ([]string, error) {
	if calldata == nil {
		calldata = []string{}
	}
	params := []interface{}{
		functionCall{
			ContractAddress:    contractAddr,
			EntryPointSelector: entryPointSelector,
			Calldata:           calldata,
		},
		"latest",
	}
	var out []string
	if err := c.do(ctx, "starknet_call", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invoke submits a single-call invoke transaction through the configured
// account contract and returns the transaction hash.
func (c *Client) Invoke(ctx context.Context, contractAddr, entryPointSelector string, calldata []string) (string, error) {
	nonce, err := c.getNonce(ctx)
	if err != nil {
		return "", err
	}
	// account __execute__ calldata layout: call_array_len, (to, selector,
	// data_offset, data_len), calldata_len, calldata
	execCalldata := []string{
		"0x1",
		contractAddr,
		entryPointSelector,
		"0x0",
		fmt.Sprintf("0x%x", len(calldata)),
		fmt.Sprintf("0x%x", len(calldata)),
	}
	execCalldata = append(execCalldata, calldata...)

	txn := invokeTxn{
		Type:          "INVOKE",
		SenderAddress: c.accountAddr,
		Calldata:      execCalldata,
		MaxFee:        "0x16345785d8a0000",
		Version:       "0x1",
		Nonce:         nonce,
	}
	sig, err := c.signer.Sign(hashForSigning(&txn))
	if err != nil {
		return "", err
	}
	txn.Signature = sig

	var out struct {
		TransactionHash string `json:"transaction_hash"`
	}
	params := map[string]interface{}{"invoke_transaction": txn}
	if err := c.do(ctx, "starknet_addInvokeTransaction", params, &out); err != nil {
		return "", err
	}
	return out.TransactionHash, nil
}

// GetTransactionReceipt fetches the receipt of a submitted transaction.
// Returns ErrTxNotFound while the transaction is still unknown to the node.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	receipt := TxReceipt{}
	err := c.do(ctx, "starknet_getTransactionReceipt", []interface{}{txHash}, &receipt)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == 29 { // TXN_HASH_NOT_FOUND
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

// WaitForReceipt polls until the transaction reaches a terminal execution
// status or ctx expires.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		if err == nil && receipt.ExecutionStatus != "" {
			return receipt, nil
		}
		if err != nil && err != ErrTxNotFound {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getNonce(ctx context.Context) (string, error) {
	var nonce string
	err := c.do(ctx, "starknet_getNonce", []interface{}{"latest", c.accountAddr}, &nonce)
	if err != nil {
		return "", err
	}
	return nonce, nil
}

// hashForSigning derives the byte string handed to the Signer. The canonical
// transaction hash is computed node-side for v1 invokes submitted through a
// signing sidecar, the sidecar only needs a stable digest of the fields.
func hashForSigning(txn *invokeTxn) string {
	bz, _ := json.Marshal(txn)
	return fmt.Sprintf("0x%x", bz)
}
