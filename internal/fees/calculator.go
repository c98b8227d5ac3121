package fees

import (
	"github.com/shopspring/decimal"
)

// Calculator derives the protocol's fee charges. All returned amounts are
// integer-valued, rounded down in the vault owner's favour.
type Calculator struct {
	// SwapFeePercent is charged on swap proceeds of vaults without an
	// adjustment strategy, e.g. 0.0015 for 15 bps.
	SwapFeePercent decimal.Decimal

	// PerformanceFeeRate is the share of outperformance charged when a
	// vault's escrow is released, e.g. 0.2.
	PerformanceFeeRate decimal.Decimal
}

// SwapFee is the protocol's cut of a single execution's proceeds. Vaults
// running an adjustment strategy pay no swap fee; their charge is deferred to
// the performance assessment.
func (c Calculator) SwapFee(received decimal.Decimal, adjustmentActive bool) decimal.Decimal {
	if adjustmentActive {
		return decimal.Zero
	}
	if !received.IsPositive() {
		return decimal.Zero
	}
	return received.Mul(c.SwapFeePercent).Floor()
}

// PerformanceFee charges PerformanceFeeRate on the amount the vault received
// beyond its standard counterpart. A run with no standard baseline is parity,
// not outperformance, and charges nothing. Underperformance charges nothing,
// and the fee never exceeds what was withheld in escrow.
func (c Calculator) PerformanceFee(received, standardReceived, escrowed decimal.Decimal) decimal.Decimal {
	if !standardReceived.IsPositive() {
		return decimal.Zero
	}
	excess := received.Sub(standardReceived)
	if !excess.IsPositive() {
		return decimal.Zero
	}
	fee := excess.Mul(c.PerformanceFeeRate).Floor()
	if fee.GreaterThan(escrowed) {
		return escrowed
	}
	return fee
}

// PerformanceFactor is the vault's receive ratio against its standard
// counterpart. A standard run that received nothing reports parity.
func PerformanceFactor(received, standardReceived decimal.Decimal) decimal.Decimal {
	if !standardReceived.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return received.Div(standardReceived)
}

// EscrowAmount is the portion of swap proceeds withheld until the
// performance assessment settles.
func EscrowAmount(level, amount decimal.Decimal) decimal.Decimal {
	if !level.IsPositive() || !amount.IsPositive() {
		return decimal.Zero
	}
	withheld := amount.Mul(level).Floor()
	if withheld.GreaterThan(amount) {
		return amount
	}
	return withheld
}

// AdjustedSwapAmount scales the configured swap amount by the strategy
// multiplier and clamps it to the available balance.
func AdjustedSwapAmount(swapAmount, multiplier, balance decimal.Decimal) decimal.Decimal {
	adjusted := swapAmount.Mul(multiplier).Floor()
	if adjusted.GreaterThan(balance) {
		adjusted = balance
	}
	if adjusted.IsNegative() {
		return decimal.Zero
	}
	return adjusted
}
