package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	VaultStatusScheduled = "scheduled"
	VaultStatusActive    = "active"
	VaultStatusInactive  = "inactive"
	VaultStatusCancelled = "cancelled"
)

const (
	PositionTypeEnter = "enter"
	PositionTypeExit  = "exit"
)

const (
	AdjustmentStrategyNone         = "none"
	AdjustmentStrategyRiskWeighted = "risk_weighted_average"
)

const (
	PerformanceStrategyNone       = "none"
	PerformanceStrategyCompareDCA = "compare_to_standard_dca"
)

// Vault is a recurring-swap position. Amount columns are integer-valued
// decimals in the asset's smallest unit.
type Vault struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Owner string `gorm:"type:varchar(128);not null;index"`
	Label string `gorm:"type:varchar(200)"`

	Status string `gorm:"type:varchar(20);not null;index"`

	PairAddress string `gorm:"type:varchar(128);not null"`
	BaseDenom   string `gorm:"type:varchar(64);not null"`
	QuoteDenom  string `gorm:"type:varchar(64);not null"`
	SwapDenom   string `gorm:"type:varchar(64);not null"`

	Balance         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	DepositedAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	SwapAmount      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	SwappedAmount   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ReceivedAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	TimeInterval    string `gorm:"type:varchar(20);not null"`
	IntervalSeconds int64  `gorm:"not null"`

	SlippageTolerance    *decimal.Decimal `gorm:"type:numeric(10,6)"`
	MinimumReceiveAmount *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Destinations datatypes.JSON `gorm:"type:jsonb;not null"`

	AdjustmentStrategy  string `gorm:"type:varchar(40);not null"`
	ModelID             uint8  `gorm:"not null"`
	PerformanceStrategy string `gorm:"type:varchar(40);not null"`

	EscrowLevel    decimal.Decimal `gorm:"type:numeric(10,6);not null"`
	EscrowedAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	StandardSwappedAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	StandardReceivedAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	StartedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Vault) TableName() string {
	return "vaults"
}

// Destination is one recipient of swap proceeds. Allocations across a
// vault's destinations sum to exactly one.
type Destination struct {
	Address    string          `json:"address"`
	Allocation decimal.Decimal `json:"allocation"`
	Callback   string          `json:"callback,omitempty"`
}

// PositionType reports which side of the pair the vault accumulates.
// Swapping the quote denom buys the base asset (enter); swapping the
// base denom sells it (exit).
func (v *Vault) PositionType() string {
	if v.SwapDenom == v.QuoteDenom {
		return PositionTypeEnter
	}
	return PositionTypeExit
}

// TargetDenom is the denom the vault receives on each execution.
func (v *Vault) TargetDenom() string {
	if v.SwapDenom == v.QuoteDenom {
		return v.BaseDenom
	}
	return v.QuoteDenom
}

func (v *Vault) IsEmpty() bool {
	return !v.Balance.IsPositive()
}

// LowFunds reports whether the remaining balance no longer covers a
// full swap amount.
func (v *Vault) LowFunds() bool {
	return v.Balance.LessThan(v.SwapAmount)
}

func (v *Vault) IsCancelled() bool {
	return v.Status == VaultStatusCancelled
}

func (v *Vault) HasPerformanceAssessment() bool {
	return v.PerformanceStrategy != "" && v.PerformanceStrategy != PerformanceStrategyNone
}

// StandardBalance is the remaining balance of the shadow run that swaps
// the unadjusted amount every interval.
func (v *Vault) StandardBalance() decimal.Decimal {
	remaining := v.DepositedAmount.Sub(v.StandardSwappedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (v *Vault) StandardRunFinished() bool {
	return !v.StandardBalance().IsPositive()
}
