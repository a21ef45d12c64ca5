package edgex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// Client is the REST client for the exchange's private trading API. It
// implements the executor's OrderPlacer and OrderCanceller interfaces.
type Client struct {
	baseURL    string
	apiKey     string
	ticker     string
	httpClient *http.Client
}

// NewClient creates a trading REST client for a single contract ticker.
//
// baseURL is the API root, e.g. "https://api.exchange.example".
func NewClient(baseURL, apiKey, ticker string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		ticker:  ticker,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceOrder submits a limit order built from the trading signal. Rejections
// from rate limiting or transient server errors are marked retryable.
func (c *Client) PlaceOrder(ctx context.Context, sig domain.TradingSignal) (domain.OrderResult, error) {
	req := orderRequest{
		Ticker:        c.ticker,
		Side:          string(sig.Direction),
		Type:          "limit",
		Price:         sig.Price.String(),
		Size:          sig.Size.String(),
		ClientOrderID: sig.ID,
	}

	respBody, status, err := c.doRequest(ctx, http.MethodPost, "/v1/order", req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("edgex: place order: %w", err)
	}

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return domain.OrderResult{
			Success:     false,
			Message:     fmt.Sprintf("http %d", status),
			ShouldRetry: true,
		}, nil
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("edgex: decode order response: %w", err)
	}

	result := domain.OrderResult{
		Success: resp.Code == 0,
		OrderID: resp.OrderID,
		Message: resp.Message,
	}
	if resp.FilledPrice != "" {
		if p, err := decimal.NewFromString(resp.FilledPrice); err == nil {
			result.FilledPrice = p
		}
	}
	if resp.Fee != "" {
		if f, err := decimal.NewFromString(resp.Fee); err == nil {
			result.Fee = f
		}
	}
	return result, nil
}

// CancelOrder cancels a resting order by its exchange ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{
		"ticker":   c.ticker,
		"order_id": orderID,
	}

	respBody, status, err := c.doRequest(ctx, http.MethodDelete, "/v1/order", body)
	if err != nil {
		return fmt.Errorf("edgex: cancel order %s: %w", orderID, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("edgex: cancel order %s: http %d", orderID, status)
	}

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("edgex: decode cancel response: %w", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("edgex: cancel failed: %s", resp.Message)
	}

	return nil
}

// doRequest performs an authenticated JSON request and returns the raw body
// and status code.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}
