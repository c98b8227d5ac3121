package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrSlippageExceeded is returned by Swap when the venue cannot honour the
// requested minimum receive amount at current depth.
var ErrSlippageExceeded = errors.New("venue: slippage tolerance exceeded")

type SwapRequest struct {
	PairAddress string
	SwapDenom   string
	Amount      decimal.Decimal
	// SlippageTolerance is the vault's maximum accepted deviation from the
	// belief price, e.g. 0.005 for 50 bps. The venue rejects worse fills
	// with ErrSlippageExceeded.
	SlippageTolerance    *decimal.Decimal
	MinimumReceiveAmount *decimal.Decimal
}

type SwapResult struct {
	Sent     decimal.Decimal
	Received decimal.Decimal
	// Price is the effective quote-per-base price the swap cleared at.
	Price decimal.Decimal
}

// Venue is the exchange surface the execution engine trades against.
type Venue interface {
	// SpotPrice quotes the current belief price for selling swapDenom on
	// the pair, expressed as quote per base.
	SpotPrice(ctx context.Context, pairAddress, swapDenom string) (decimal.Decimal, error)

	// ExpectedReceiveAmount simulates a swap without executing it.
	ExpectedReceiveAmount(ctx context.Context, pairAddress, swapDenom string, amount decimal.Decimal) (decimal.Decimal, error)

	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)

	// SubmitLimitOrder registers a conditional order backing a price
	// trigger and returns the venue's order id. The order carries no vault
	// funds; the engine swaps from the vault balance once it reports
	// filled.
	SubmitLimitOrder(ctx context.Context, pairAddress, swapDenom string, amount, targetPrice decimal.Decimal) (string, error)

	// LimitOrderFilled reports whether the book has traded through the
	// order's price for its full size.
	LimitOrderFilled(ctx context.Context, pairAddress, orderID string) (bool, error)

	// WithdrawLimitOrder cancels a conditional order.
	WithdrawLimitOrder(ctx context.Context, pairAddress, orderID string) error
}
