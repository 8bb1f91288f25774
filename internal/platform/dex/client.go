// Package dex talks to the DEX aggregator API: spot prices over REST and a
// streaming price feed over WebSocket.
package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// Client is an HTTP client for the DEX aggregator REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a DEX REST client.
//
// baseURL is the API root, e.g. "https://api.dex.example.com/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetPrice returns the current exchange rate of baseToken in the given pool.
// It returns domain.ErrPriceUnavailable (wrapped) when the pool is unknown,
// has no liquidity, or reports a non-positive price.
func (c *Client) GetPrice(ctx context.Context, poolID, baseToken string) (float64, error) {
	endpoint := fmt.Sprintf("%s/pools/%s/price?token=%s",
		c.baseURL, url.PathEscape(poolID), url.QueryEscape(baseToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("dex: build price request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("dex: get price %s/%s: %w: %w", poolID, baseToken, domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("dex: pool %s: %w", poolID, domain.ErrPriceUnavailable)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("dex: get price %s/%s: status %d: %s: %w",
			poolID, baseToken, resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrPriceUnavailable)
	}

	var out poolPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("dex: decode price %s/%s: %w", poolID, baseToken, err)
	}
	if out.Price <= 0 {
		return 0, fmt.Errorf("dex: pool %s token %s has no usable price: %w",
			poolID, baseToken, domain.ErrPriceUnavailable)
	}

	return out.Price, nil
}

var _ domain.PriceOracle = (*Client)(nil)
