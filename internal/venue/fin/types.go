package fin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"calc/internal/venue"
)

type simulateRequest struct {
	SwapDenom string          `json:"swap_denom"`
	Amount    decimal.Decimal `json:"amount"`
}

type swapRequest struct {
	SwapDenom            string           `json:"swap_denom"`
	Amount               decimal.Decimal  `json:"amount"`
	SlippageTolerance    *decimal.Decimal `json:"slippage_tolerance,omitempty"`
	MinimumReceiveAmount *decimal.Decimal `json:"minimum_receive_amount,omitempty"`
}

type limitOrderRequest struct {
	SwapDenom string          `json:"swap_denom"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
}

type orderResponse struct {
	OrderID         string          `json:"order_id"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

func parsePrice(raw []byte) (decimal.Decimal, error) {
	var resp struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse price response: %w", err)
	}
	if !resp.Price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("venue returned non-positive price %s", resp.Price)
	}
	return resp.Price, nil
}

func parseReceiveAmount(raw []byte) (decimal.Decimal, error) {
	var resp struct {
		ReceiveAmount decimal.Decimal `json:"receive_amount"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse simulate response: %w", err)
	}
	if resp.ReceiveAmount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("venue returned negative receive amount %s", resp.ReceiveAmount)
	}
	return resp.ReceiveAmount, nil
}

func parseSwapResult(raw []byte) (*venue.SwapResult, error) {
	var resp struct {
		Sent     decimal.Decimal `json:"sent"`
		Received decimal.Decimal `json:"received"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse swap response: %w", err)
	}
	if !resp.Sent.IsPositive() || resp.Received.IsNegative() {
		return nil, fmt.Errorf("venue returned invalid swap result sent=%s received=%s", resp.Sent, resp.Received)
	}
	return &venue.SwapResult{
		Sent:     resp.Sent,
		Received: resp.Received,
		Price:    resp.Price,
	}, nil
}

func parseOrderID(raw []byte) (string, error) {
	order, err := parseOrder(raw)
	if err != nil {
		return "", err
	}
	return order.OrderID, nil
}

func parseOrder(raw []byte) (*orderResponse, error) {
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	resp.OrderID = strings.TrimSpace(resp.OrderID)
	if resp.OrderID == "" {
		return nil, fmt.Errorf("order id missing in response")
	}
	return &resp, nil
}
