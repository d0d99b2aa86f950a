package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// ClientConfig configures the aggregator client.
type ClientConfig struct {
	// QuoteURL is the quote API root, e.g. "https://quote-api.jup.ag/v6".
	QuoteURL string
	// PriceURL is the price API root, e.g. "https://price.jup.ag/v6".
	PriceURL string
	Timeout  time.Duration
}

// Client is the REST client for the swap aggregator: quoting routes,
// serializing them into unsigned transactions, and reading spot prices.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a new aggregator REST client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// GetQuote returns the best route for the requested swap. A swap with no
// viable route returns domain.ErrNoRoute.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InMint)
	params.Set("outputMint", req.OutMint)
	params.Set("amount", req.Amount)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", "ExactIn")

	body, err := c.doRequest(ctx, http.MethodGet, c.cfg.QuoteURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: quote %s->%s: %w", req.InMint, req.OutMint, err)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	return &quote, nil
}

// BuildSwapTransaction serializes a quoted route into an unsigned
// transaction for the given wallet.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote *Quote, userPublicKey string) (*SwapTransaction, error) {
	req := struct {
		QuoteResponse    *Quote `json:"quoteResponse"`
		UserPublicKey    string `json:"userPublicKey"`
		WrapAndUnwrapSol bool   `json:"wrapAndUnwrapSol"`
	}{
		QuoteResponse:    quote,
		UserPublicKey:    userPublicKey,
		WrapAndUnwrapSol: true,
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.cfg.QuoteURL+"/swap", req)
	if err != nil {
		return nil, fmt.Errorf("jupiter: build swap transaction: %w", err)
	}

	var resp struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	return &SwapTransaction{RawTx: raw, LastValidBlockHeight: resp.LastValidBlockHeight}, nil
}

// GetPrice returns the spot price of baseMint denominated in quoteMint.
func (c *Client) GetPrice(ctx context.Context, baseMint, quoteMint string) (domain.Amount, error) {
	params := url.Values{}
	params.Set("ids", baseMint)
	params.Set("vsToken", quoteMint)

	body, err := c.doRequest(ctx, http.MethodGet, c.cfg.PriceURL+"/price?"+params.Encode(), nil)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("jupiter: get price %s vs %s: %w", baseMint, quoteMint, err)
	}

	var resp struct {
		Data map[string]struct {
			Price json.Number `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Amount{}, fmt.Errorf("jupiter: decode price response: %w", err)
	}
	entry, ok := resp.Data[baseMint]
	if !ok {
		return domain.Amount{}, fmt.Errorf("jupiter: price for %s: %w", baseMint, domain.ErrNotFound)
	}

	price, err := domain.ParseAmount(entry.Price.String())
	if err != nil {
		return domain.Amount{}, fmt.Errorf("jupiter: parse price %q: %w", entry.Price, err)
	}
	return price, nil
}

// doRequest builds, sends, and reads an HTTP request against the
// aggregator, mapping its error envelope onto domain errors.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope errorResponse
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != "" {
			if isNoRoute(envelope) {
				return nil, fmt.Errorf("%s: %w", envelope.Error, domain.ErrNoRoute)
			}
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, envelope.Error)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// isNoRoute recognizes the aggregator's route-not-found errors.
func isNoRoute(e errorResponse) bool {
	if e.ErrorCode == "COULD_NOT_FIND_ANY_ROUTE" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Error), "no route")
}
