package fin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"calc/internal/venue"
)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fin API error (%d): %s", e.Status, e.Body)
}

// Client talks to a fin orderbook gateway over HTTP. It implements
// venue.Venue.
type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, host string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("fin client is nil")
	}
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func pairPath(pairAddress, suffix string) string {
	return "/pairs/" + url.PathEscape(strings.TrimSpace(pairAddress)) + suffix
}

func (c *Client) SpotPrice(ctx context.Context, pairAddress, swapDenom string) (decimal.Decimal, error) {
	if strings.TrimSpace(pairAddress) == "" {
		return decimal.Decimal{}, fmt.Errorf("pair address is required")
	}
	query := url.Values{}
	query.Set("swap_denom", swapDenom)
	body, err := c.doRequest(ctx, http.MethodGet, pairPath(pairAddress, "/price"), query, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return parsePrice(body)
}

func (c *Client) ExpectedReceiveAmount(ctx context.Context, pairAddress, swapDenom string, amount decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(pairAddress) == "" {
		return decimal.Decimal{}, fmt.Errorf("pair address is required")
	}
	body, err := c.doRequest(ctx, http.MethodPost, pairPath(pairAddress, "/simulate"), nil, simulateRequest{
		SwapDenom: swapDenom,
		Amount:    amount,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return parseReceiveAmount(body)
}

func (c *Client) Swap(ctx context.Context, req venue.SwapRequest) (*venue.SwapResult, error) {
	if strings.TrimSpace(req.PairAddress) == "" {
		return nil, fmt.Errorf("pair address is required")
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("swap amount must be positive")
	}
	body, err := c.doRequest(ctx, http.MethodPost, pairPath(req.PairAddress, "/swap"), nil, swapRequest{
		SwapDenom:            req.SwapDenom,
		Amount:               req.Amount,
		SlippageTolerance:    req.SlippageTolerance,
		MinimumReceiveAmount: req.MinimumReceiveAmount,
	})
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && isSlippageBody(apiErr.Body) {
			return nil, venue.ErrSlippageExceeded
		}
		return nil, err
	}
	return parseSwapResult(body)
}

func (c *Client) SubmitLimitOrder(ctx context.Context, pairAddress, swapDenom string, amount, targetPrice decimal.Decimal) (string, error) {
	if strings.TrimSpace(pairAddress) == "" {
		return "", fmt.Errorf("pair address is required")
	}
	body, err := c.doRequest(ctx, http.MethodPost, pairPath(pairAddress, "/orders"), nil, limitOrderRequest{
		SwapDenom: swapDenom,
		Amount:    amount,
		Price:     targetPrice,
	})
	if err != nil {
		return "", err
	}
	return parseOrderID(body)
}

func (c *Client) LimitOrderFilled(ctx context.Context, pairAddress, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, fmt.Errorf("order id is required")
	}
	path := pairPath(pairAddress, "/orders/"+url.PathEscape(orderID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return false, err
	}
	order, err := parseOrder(body)
	if err != nil {
		return false, err
	}
	return !order.RemainingAmount.IsPositive(), nil
}

func (c *Client) WithdrawLimitOrder(ctx context.Context, pairAddress, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("order id is required")
	}
	path := pairPath(pairAddress, "/orders/"+url.PathEscape(orderID)+"/withdraw")
	_, err := c.doRequest(ctx, http.MethodPost, path, nil, map[string]any{})
	return err
}

func isSlippageBody(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "slippage") || strings.Contains(lowered, "max spread")
}
