package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EventVaultCreated                = "vault_created"
	EventFundsDeposited              = "funds_deposited"
	EventExecutionTriggered          = "execution_triggered"
	EventExecutionCompleted          = "execution_completed"
	EventExecutionSkipped            = "execution_skipped"
	EventSimulatedExecutionCompleted = "simulated_execution_completed"
	EventSimulatedExecutionSkipped   = "simulated_execution_skipped"
	EventVaultCancelled              = "vault_cancelled"
	EventEscrowDisbursed             = "escrow_disbursed"
	EventAutomationFailed            = "automation_failed"
)

const (
	SkipReasonSlippageToleranceExceeded = "slippage_tolerance_exceeded"
	SkipReasonPriceThresholdExceeded    = "price_threshold_exceeded"
	SkipReasonSwapAmountAdjustedToZero  = "swap_amount_adjusted_to_zero"
)

// Event is one entry of a vault's append-only history. Payload is a tagged
// variant keyed by Type; rows are never mutated or deleted.
type Event struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ResourceID uint64 `gorm:"not null;index"`

	Type    string         `gorm:"type:varchar(40);not null;index"`
	Payload datatypes.JSON `gorm:"type:jsonb;not null"`

	Timestamp time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Event) TableName() string {
	return "events"
}

type FundsDepositedPayload struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

type ExecutionTriggeredPayload struct {
	BaseDenom  string          `json:"base_denom"`
	QuoteDenom string          `json:"quote_denom"`
	AssetPrice decimal.Decimal `json:"asset_price"`
}

type ExecutionCompletedPayload struct {
	SentDenom     string          `json:"sent_denom"`
	Sent          decimal.Decimal `json:"sent"`
	ReceivedDenom string          `json:"received_denom"`
	Received      decimal.Decimal `json:"received"`
	Fee           decimal.Decimal `json:"fee"`
}

type ExecutionSkippedPayload struct {
	Reason string           `json:"reason"`
	Price  *decimal.Decimal `json:"price,omitempty"`
}

type EscrowDisbursedPayload struct {
	Denom           string          `json:"denom"`
	AmountDisbursed decimal.Decimal `json:"amount_disbursed"`
	PerformanceFee  decimal.Decimal `json:"performance_fee"`
}

type AutomationFailedPayload struct {
	Destination string          `json:"destination"`
	Denom       string          `json:"denom"`
	Amount      decimal.Decimal `json:"amount"`
	Error       string          `json:"error"`
}

// NewEvent builds an append-ready event row. A payload that fails to
// marshal is a programming error, so it degrades to an empty object.
func NewEvent(resourceID uint64, at time.Time, eventType string, payload any) *Event {
	raw := []byte(`{}`)
	if payload != nil {
		if bz, err := json.Marshal(payload); err == nil {
			raw = bz
		}
	}
	return &Event{
		ResourceID: resourceID,
		Type:       eventType,
		Payload:    datatypes.JSON(raw),
		Timestamp:  at,
	}
}
