package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapAdjustment is one multiplier in the risk-weighted-average table,
// keyed by position side and model. Vaults resolve their multiplier at
// execution time; a missing row resolves to one.
type SwapAdjustment struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement"`
	PositionType string          `gorm:"type:varchar(10);not null;uniqueIndex:idx_adjustment_position_model"`
	ModelID      uint8           `gorm:"not null;uniqueIndex:idx_adjustment_position_model"`
	Multiplier   decimal.Decimal `gorm:"type:numeric(10,6);not null"`
	UpdatedAt    time.Time       `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SwapAdjustment) TableName() string {
	return "swap_adjustments"
}
