// Package solana is the JSON-RPC facade over the settlement chain. It
// exposes only the four calls the engine needs (block height, raw
// transaction submission, signature status, and parsed transaction
// fetch) and classifies HTTP 429 responses as domain.ErrRateLimited so
// the settlement loops can treat them as transient.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// ClientConfig holds RPC connection parameters.
type ClientConfig struct {
	Endpoint string
	// Commitment is the default commitment level for height and status
	// queries.
	Commitment string
	// SendMaxRetries is forwarded to the RPC node's own retry machinery
	// for sendTransaction. The engine does its own rebroadcasting on top.
	SendMaxRetries int
	Timeout        time.Duration
}

// Client is the chain RPC facade. Safe for concurrent use; the
// settlement engine calls it from the broadcaster and confirmer
// goroutines at once.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// NewClient creates a Client for the given endpoint.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "solana_rpc")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip. HTTP 429 and RPC error code
// -32429 both surface as domain.ErrRateLimited.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("solana: %s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("solana: %s: unexpected status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("solana: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == -32429 {
			return fmt.Errorf("solana: %s: %s: %w", method, envelope.Error.Message, domain.ErrRateLimited)
		}
		return fmt.Errorf("solana: %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("solana: decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetBlockHeight returns the current block height at the given
// commitment level (the client default when commitment is empty).
func (c *Client) GetBlockHeight(ctx context.Context, commitment string) (uint64, error) {
	if commitment == "" {
		commitment = c.cfg.Commitment
	}
	var height uint64
	err := c.call(ctx, "getBlockHeight", []any{map[string]any{"commitment": commitment}}, &height)
	return height, err
}

// SendRawTransaction broadcasts a signed transaction. Preflight is
// skipped on purpose: the engine wants the transaction in the leader's
// queue even when simulation would reject it, and classifies failures
// from the confirmed status instead.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) error {
	params := []any{
		base64.StdEncoding.EncodeToString(rawTx),
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       true,
			"maxRetries":          c.cfg.SendMaxRetries,
			"preflightCommitment": CommitmentConfirmed,
		},
	}
	return c.call(ctx, "sendTransaction", params, nil)
}

// GetSignatureStatus returns the status of one signature, or nil when
// the chain does not know it. Recent-history only; dropped transactions
// simply never appear.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": false},
	}
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// GetParsedTransaction fetches the settled transaction in jsonParsed
// form, or nil when the chain does not have it.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     CommitmentConfirmed,
			"maxSupportedTransactionVersion": 0,
		},
	}
	var result *ParsedTransaction
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
