package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutReasonDisbursement     = "disbursement"
	PayoutReasonCallbackFallback = "callback_fallback"
	PayoutReasonEscrowRelease    = "escrow_release"
	PayoutReasonPerformanceFee   = "performance_fee"
	PayoutReasonSwapFee          = "swap_fee"
	PayoutReasonRefund           = "refund"
)

// Payout is one settled outbound transfer from the treasury ledger.
type Payout struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	VaultID   uint64          `gorm:"not null;index"`
	Recipient string          `gorm:"type:varchar(128);not null"`
	Denom     string          `gorm:"type:varchar(64);not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Reason    string          `gorm:"type:varchar(30);not null"`
	CreatedAt time.Time       `gorm:"type:timestamptz;autoCreateTime"`
}

func (Payout) TableName() string {
	return "payouts"
}
