// Package orderexec talks to the external order-execution service that turns
// order requests into on-chain swaps.
package orderexec

import (
	"bytes"
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

const (
	// pollBaseDelay is the first AwaitTerminal polling interval.
	pollBaseDelay = 500 * time.Millisecond

	// pollMaxDelay caps the AwaitTerminal backoff.
	pollMaxDelay = 5 * time.Second
)

// Client is an HTTP client for the order-execution service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an order-execution client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// createOrderPayload is the wire shape of an order submission.
type createOrderPayload struct {
	WalletAddress string  `json:"wallet_address"`
	TradingPair   string  `json:"trading_pair"`
	BaseToken     string  `json:"base_token"`
	QuoteToken    string  `json:"quote_token"`
	TargetPrice   float64 `json:"target_price"`
	TriggerAbove  bool    `json:"trigger_above"`
	IsBuy         bool    `json:"is_buy"`
	Amount        float64 `json:"amount"`
	PoolID        string  `json:"pool_id"`
	ClientKey     string  `json:"client_key,omitempty"`
}

// orderPayload is the wire shape of an order read back from the service.
type orderPayload struct {
	ID            string  `json:"id"`
	IsBuy         bool    `json:"is_buy"`
	TargetPrice   float64 `json:"target_price"`
	TriggerAbove  bool    `json:"trigger_above"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	ExecutedPrice float64 `json:"executed_price"`
	ErrorMessage  string  `json:"error_message"`
}

func (p orderPayload) toDomain() domain.Order {
	return domain.Order{
		ID:            p.ID,
		IsBuy:         p.IsBuy,
		TargetPrice:   p.TargetPrice,
		TriggerAbove:  p.TriggerAbove,
		Amount:        p.Amount,
		Status:        domain.OrderStatus(p.Status),
		ExecutedPrice: p.ExecutedPrice,
		ErrorMessage:  p.ErrorMessage,
	}
}

// CreateOrder submits an order and returns its handle. The service rejects a
// reused client key with 409, surfaced as domain.ErrDuplicateOrder.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	body, err := json.Marshal(createOrderPayload{
		WalletAddress: req.WalletAddress,
		TradingPair:   req.TradingPair,
		BaseToken:     req.BaseToken,
		QuoteToken:    req.QuoteToken,
		TargetPrice:   req.TargetPrice,
		TriggerAbove:  req.TriggerAbove,
		IsBuy:         req.IsBuy,
		Amount:        req.Amount,
		PoolID:        req.PoolID,
		ClientKey:     req.ClientKey,
	})
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("orderexec: marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("orderexec: build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("orderexec: create order: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return domain.OrderHandle{}, fmt.Errorf("orderexec: client key %s: %w", req.ClientKey, domain.ErrDuplicateOrder)
	case http.StatusTooManyRequests:
		return domain.OrderHandle{}, fmt.Errorf("orderexec: create order: %w", domain.ErrRateLimited)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.OrderHandle{}, fmt.Errorf("orderexec: create order: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out orderPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("orderexec: decode create response: %w", err)
	}
	return domain.OrderHandle{ID: out.ID, Status: domain.OrderStatus(out.Status)}, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	endpoint := c.baseURL + "/orders/" + url.PathEscape(orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderexec: build get request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orderexec: get order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Order{}, fmt.Errorf("orderexec: order %s: %w", orderID, domain.ErrNotFound)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Order{}, fmt.Errorf("orderexec: get order %s: status %d: %s",
			orderID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out orderPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Order{}, fmt.Errorf("orderexec: decode order %s: %w", orderID, err)
	}
	return out.toDomain(), nil
}

// AwaitTerminal polls GetOrder with exponential backoff until the order
// reaches a terminal status or maxWait elapses. On timeout it returns the
// last observed order state alongside the context error.
func (c *Client) AwaitTerminal(ctx context.Context, orderID string, maxWait time.Duration) (domain.Order, error) {
	deadline, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	delay := pollBaseDelay
	var last domain.Order
	for {
		order, err := c.GetOrder(deadline, orderID)
		if err == nil {
			last = order
			if order.Status.Terminal() {
				return order, nil
			}
		} else if deadline.Err() != nil {
			return last, fmt.Errorf("orderexec: await order %s: %w", orderID, deadline.Err())
		}

		timer := time.NewTimer(delay)
		select {
		case <-deadline.Done():
			timer.Stop()
			return last, fmt.Errorf("orderexec: await order %s: %w", orderID, deadline.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
}

var _ domain.OrderService = (*Client)(nil)
