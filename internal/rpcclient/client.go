// Package rpcclient provides a JSON-RPC 2.0 client for ledger nodes.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http request: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.ID != req.ID {
		return fmt.Errorf("response id %d does not match request id %d", rpcResp.ID, req.ID)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// ── Typed helpers ───────────────────────────────────────────────────────

// GetInfo returns the node's ledger summary.
func (c *Client) GetInfo(ctx context.Context) (*rpc.LedgerInfoResult, error) {
	var res rpc.LedgerInfoResult
	if err := c.Call(ctx, "ledger_getInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTxFee returns the current fee for a transaction kind.
func (c *Client) GetTxFee(ctx context.Context, kind string) (*rpc.FeeResult, error) {
	var res rpc.FeeResult
	if err := c.Call(ctx, "ledger_getTxFee", rpc.TypeParam{Type: kind}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBalance returns the balance of address.
func (c *Client) GetBalance(ctx context.Context, address string) (*rpc.BalanceResult, error) {
	var res rpc.BalanceResult
	if err := c.Call(ctx, "ledger_getBalance", rpc.AddressParam{Address: address}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTx returns a stored transaction by hash.
func (c *Client) GetTx(ctx context.Context, hash string) (*rpc.TxResult, error) {
	var res rpc.TxResult
	if err := c.Call(ctx, "ledger_getTx", rpc.HashParam{Hash: hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTxList returns the stored transactions touching address.
func (c *Client) GetTxList(ctx context.Context, address string) ([]*rpc.TxResult, error) {
	var res []*rpc.TxResult
	if err := c.Call(ctx, "ledger_getTxList", rpc.AddressParam{Address: address}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// SubmitTx hands a signed transaction to the node.
func (c *Client) SubmitTx(ctx context.Context, t *tx.Transaction) (string, error) {
	var res rpc.TxSubmitResult
	if err := c.Call(ctx, "tx_submit", rpc.TxSubmitParam{Transaction: t}, &res); err != nil {
		return "", err
	}
	return res.TxHash, nil
}

// Transfer asks the node's wallet to pay amount to to. An empty from
// spends from every wallet address.
func (c *Client) Transfer(ctx context.Context, from []string, to string, amount uint64, remark string) (string, error) {
	var res rpc.TxSubmitResult
	params := rpc.TransferParam{From: from, To: to, Amount: amount, Remark: remark}
	if err := c.Call(ctx, "wallet_transfer", params, &res); err != nil {
		return "", err
	}
	return res.TxHash, nil
}

// Lock asks the node's wallet to time-lock amount of address.
func (c *Client) Lock(ctx context.Context, address string, amount, unlockTime uint64, remark string) (string, error) {
	var res rpc.TxSubmitResult
	params := rpc.LockParam{Address: address, Amount: amount, UnlockTime: unlockTime, Remark: remark}
	if err := c.Call(ctx, "wallet_lock", params, &res); err != nil {
		return "", err
	}
	return res.TxHash, nil
}

// Addresses returns the node wallet's addresses.
func (c *Client) Addresses(ctx context.Context) ([]string, error) {
	var res []string
	if err := c.Call(ctx, "wallet_addresses", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Agents returns every registered consensus agent.
func (c *Client) Agents(ctx context.Context) ([]*rpc.AgentResult, error) {
	var res []*rpc.AgentResult
	if err := c.Call(ctx, "agent_list", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Peers returns the node's connected peers.
func (c *Client) Peers(ctx context.Context) (*rpc.PeerInfoResult, error) {
	var res rpc.PeerInfoResult
	if err := c.Call(ctx, "net_getPeerInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
