package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"calc/internal/config"
)

// EngineParams is the protocol configuration record passed down into the
// services, parsed once at startup.
type EngineParams struct {
	SwapFeePercent     decimal.Decimal
	PerformanceFeeRate decimal.Decimal
	DefaultEscrowLevel decimal.Decimal
	MinimumSwapAmount  decimal.Decimal
	FeeCollector       string
	AdminAddress       string
	MaxDestinations    int
}

func ParamsFromConfig(cfg config.EngineConfig) (EngineParams, error) {
	swapFee, err := parseRate("engine.swap_fee_percent", cfg.SwapFeePercent)
	if err != nil {
		return EngineParams{}, err
	}
	perfRate, err := parseRate("engine.performance_fee_rate", cfg.PerformanceFeeRate)
	if err != nil {
		return EngineParams{}, err
	}
	escrowLevel, err := parseRate("engine.default_escrow_level", cfg.DefaultEscrowLevel)
	if err != nil {
		return EngineParams{}, err
	}
	minSwap, err := decimal.NewFromString(strings.TrimSpace(cfg.MinimumSwapAmount))
	if err != nil {
		return EngineParams{}, fmt.Errorf("engine.minimum_swap_amount: %w", err)
	}
	if minSwap.IsNegative() {
		return EngineParams{}, fmt.Errorf("engine.minimum_swap_amount must not be negative")
	}
	maxDest := cfg.MaxDestinations
	if maxDest <= 0 {
		maxDest = 10
	}
	return EngineParams{
		SwapFeePercent:     swapFee,
		PerformanceFeeRate: perfRate,
		DefaultEscrowLevel: escrowLevel,
		MinimumSwapAmount:  minSwap,
		FeeCollector:       strings.TrimSpace(cfg.FeeCollectorAddress),
		AdminAddress:       strings.TrimSpace(cfg.AdminAddress),
		MaxDestinations:    maxDest,
	}, nil
}

func parseRate(name, raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", name, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("%s must be within [0, 1], got %s", name, rate)
	}
	return rate, nil
}
