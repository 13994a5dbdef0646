// Package solana provides the read-only Solana JSON-RPC access needed to check
// that a payment transfer landed on chain.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Default public RPC endpoints.
const (
	MainnetRPC = "https://api.mainnet-beta.solana.com"
	DevnetRPC  = "https://api.devnet.solana.com"
	TestnetRPC = "https://api.testnet.solana.com"
)

// ErrTransactionNotFound is returned when the node has no record of a signature
// at the requested commitment.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	RPCURL  string
	Timeout time.Duration

	// HTTPClient overrides the default client (tests, custom transports).
	HTTPClient *http.Client
}

// Client is a minimal Solana JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewClient creates a new RPC client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: httpClient,
	}, nil
}

// URL returns the RPC endpoint the client talks to.
func (c *Client) URL() string {
	return c.rpcURL
}

// Call makes a raw RPC call and returns the result member.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetTransaction fetches a transaction in jsonParsed encoding. A null result is
// reported as ErrTransactionNotFound.
func (c *Client) GetTransaction(ctx context.Context, signature, commitment string) (gjson.Result, error) {
	if commitment == "" {
		commitment = CommitmentConfirmed
	}

	result, err := c.Call(ctx, "getTransaction", signature, map[string]interface{}{
		"encoding":                       "jsonParsed",
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return gjson.Result{}, err
	}

	tx := gjson.ParseBytes(result)
	if !tx.Exists() || tx.Type == gjson.Null {
		return gjson.Result{}, ErrTransactionNotFound
	}
	return tx, nil
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	var params []interface{}
	if commitment != "" {
		params = append(params, map[string]string{"commitment": commitment})
	}

	result, err := c.Call(ctx, "getSlot", params...)
	if err != nil {
		return 0, err
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("decode slot: %w", err)
	}
	return slot, nil
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, account string) (uint64, error) {
	result, err := c.Call(ctx, "getBalance", account)
	if err != nil {
		return 0, err
	}

	value := gjson.GetBytes(result, "value")
	if !value.Exists() {
		return 0, fmt.Errorf("decode balance: missing value")
	}
	return value.Uint(), nil
}

// GetHealth returns nil when the node reports "ok".
func (c *Client) GetHealth(ctx context.Context) error {
	result, err := c.Call(ctx, "getHealth")
	if err != nil {
		return err
	}

	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}
