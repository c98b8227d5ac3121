package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"calc/internal/models"
)

// Repository is the persistence surface used by the vault services. Mutations
// that must commit together run inside InTx and take the transaction handle
// explicitly.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Vaults
	InsertVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error
	SaveVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error
	GetVaultByID(ctx context.Context, id uint64) (*models.Vault, error)
	GetVaultByIDTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Vault, error)
	ListVaults(ctx context.Context, params ListVaultsParams) ([]models.Vault, error)
	CountVaults(ctx context.Context, params ListVaultsParams) (int64, error)

	// Triggers
	SaveTriggerTx(ctx context.Context, tx *gorm.DB, item *models.Trigger) error
	DeleteTriggerTx(ctx context.Context, tx *gorm.DB, vaultID uint64) error
	GetTriggerByVaultID(ctx context.Context, vaultID uint64) (*models.Trigger, error)
	GetTriggerByVaultIDTx(ctx context.Context, tx *gorm.DB, vaultID uint64) (*models.Trigger, error)
	ListDueTimeTriggers(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error)
	ListPriceTriggers(ctx context.Context, limit int) ([]models.Trigger, error)

	// Events
	AppendEventTx(ctx context.Context, tx *gorm.DB, item *models.Event) error
	ListEventsByResourceID(ctx context.Context, params ListEventsParams) ([]models.Event, error)
	CountEventsByResourceID(ctx context.Context, resourceID uint64) (int64, error)

	// Swap adjustments
	GetSwapAdjustment(ctx context.Context, positionType string, modelID uint8) (*models.SwapAdjustment, error)
	UpsertSwapAdjustment(ctx context.Context, item *models.SwapAdjustment) error
	ListSwapAdjustments(ctx context.Context) ([]models.SwapAdjustment, error)

	// Treasury ledger
	InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error
	ListPayoutsByVaultID(ctx context.Context, vaultID uint64, limit int) ([]models.Payout, error)

	// Escrow sweep
	ListDisburseEscrowCandidates(ctx context.Context, limit int) ([]models.Vault, error)
}

type ListVaultsParams struct {
	Limit        int
	Offset       int
	Owner        *string
	Status       *string
	StartAfterID *uint64
	OrderBy      string
	Asc          *bool
}

type ListEventsParams struct {
	ResourceID uint64
	Limit      int
	Offset     int
	Asc        *bool
}
