package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TriggerKindTime  = "time"
	TriggerKindPrice = "price"
)

// Trigger marks a vault as eligible for its next execution. A vault has
// at most one trigger at a time.
type Trigger struct {
	VaultID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Kind    string `gorm:"type:varchar(10);not null;index"`

	TargetTime  *time.Time       `gorm:"type:timestamptz;index"`
	TargetPrice *decimal.Decimal `gorm:"type:numeric(30,10)"`
	OrderID     string           `gorm:"type:varchar(128)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Trigger) TableName() string {
	return "triggers"
}
