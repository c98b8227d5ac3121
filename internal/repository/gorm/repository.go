package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"calc/internal/models"
	"calc/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Vaults -----------------------------------------------------------------

func (s *Store) InsertVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error {
	if s == nil || tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error {
	if s == nil || tx == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).Save(item).Error
}

func (s *Store) GetVaultByID(ctx context.Context, id uint64) (*models.Vault, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return getVault(s.db.WithContext(ctx), id)
}

func (s *Store) GetVaultByIDTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Vault, error) {
	if s == nil || tx == nil {
		return nil, nil
	}
	return getVault(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func getVault(db *gorm.DB, id uint64) (*models.Vault, error) {
	if id == 0 {
		return nil, nil
	}
	var item models.Vault
	err := db.Model(&models.Vault{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListVaults(ctx context.Context, params repository.ListVaultsParams) ([]models.Vault, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyVaultFilters(s.db.WithContext(ctx).Model(&models.Vault{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Vault
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountVaults(ctx context.Context, params repository.ListVaultsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	query := applyVaultFilters(s.db.WithContext(ctx).Model(&models.Vault{}), params)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyVaultFilters(query *gorm.DB, params repository.ListVaultsParams) *gorm.DB {
	if params.Owner != nil && strings.TrimSpace(*params.Owner) != "" {
		query = query.Where("owner = ?", strings.TrimSpace(*params.Owner))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.StartAfterID != nil && *params.StartAfterID > 0 {
		query = query.Where("id > ?", *params.StartAfterID)
	}
	return query
}

// --- Triggers ---------------------------------------------------------------

func (s *Store) SaveTriggerTx(ctx context.Context, tx *gorm.DB, item *models.Trigger) error {
	if s == nil || tx == nil || item == nil {
		return nil
	}
	if item.VaultID == 0 {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vault_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind",
			"target_time",
			"target_price",
			"order_id",
		}),
	}).Create(item).Error
}

func (s *Store) DeleteTriggerTx(ctx context.Context, tx *gorm.DB, vaultID uint64) error {
	if s == nil || tx == nil || vaultID == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Delete(&models.Trigger{}).
		Error
}

func (s *Store) GetTriggerByVaultID(ctx context.Context, vaultID uint64) (*models.Trigger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return getTrigger(s.db.WithContext(ctx), vaultID)
}

func (s *Store) GetTriggerByVaultIDTx(ctx context.Context, tx *gorm.DB, vaultID uint64) (*models.Trigger, error) {
	if s == nil || tx == nil {
		return nil, nil
	}
	return getTrigger(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), vaultID)
}

func getTrigger(db *gorm.DB, vaultID uint64) (*models.Trigger, error) {
	if vaultID == 0 {
		return nil, nil
	}
	var item models.Trigger
	err := db.Model(&models.Trigger{}).Where("vault_id = ?", vaultID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDueTimeTriggers(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Trigger
	if err := s.db.WithContext(ctx).
		Model(&models.Trigger{}).
		Where("kind = ?", models.TriggerKindTime).
		Where("target_time IS NOT NULL").
		Where("target_time <= ?", now).
		Order("target_time asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPriceTriggers(ctx context.Context, limit int) ([]models.Trigger, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Trigger
	if err := s.db.WithContext(ctx).
		Model(&models.Trigger{}).
		Where("kind = ?", models.TriggerKindPrice).
		Order("created_at asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Events -----------------------------------------------------------------

func (s *Store) AppendEventTx(ctx context.Context, tx *gorm.DB, item *models.Event) error {
	if s == nil || tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListEventsByResourceID(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	if s == nil || s.db == nil || params.ResourceID == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("resource_id = ?", params.ResourceID)
	query = applyOrder(query, "id", params.Asc, "id")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Event
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountEventsByResourceID(ctx context.Context, resourceID uint64) (int64, error) {
	if s == nil || s.db == nil || resourceID == 0 {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("resource_id = ?", resourceID).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- Swap adjustments -------------------------------------------------------

func (s *Store) GetSwapAdjustment(ctx context.Context, positionType string, modelID uint8) (*models.SwapAdjustment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	positionType = strings.TrimSpace(positionType)
	if positionType == "" {
		return nil, nil
	}
	var item models.SwapAdjustment
	err := s.db.WithContext(ctx).
		Model(&models.SwapAdjustment{}).
		Where("position_type = ?", positionType).
		Where("model_id = ?", modelID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSwapAdjustment(ctx context.Context, item *models.SwapAdjustment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.PositionType) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "position_type"}, {Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"multiplier",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSwapAdjustments(ctx context.Context) ([]models.SwapAdjustment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SwapAdjustment
	if err := s.db.WithContext(ctx).
		Model(&models.SwapAdjustment{}).
		Order("position_type asc, model_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Treasury ledger --------------------------------------------------------

func (s *Store) InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error {
	if s == nil || tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPayoutsByVaultID(ctx context.Context, vaultID uint64, limit int) ([]models.Payout, error) {
	if s == nil || s.db == nil || vaultID == 0 {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Payout
	if err := s.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("vault_id = ?", vaultID).
		Order("id asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Escrow sweep -----------------------------------------------------------

// ListDisburseEscrowCandidates finds vaults whose escrow may be releasable:
// positive escrow, an exhausted balance, and a finished standard run. The
// escrow service re-checks the preconditions before disbursing.
func (s *Store) ListDisburseEscrowCandidates(ctx context.Context, limit int) ([]models.Vault, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Vault
	if err := s.db.WithContext(ctx).
		Model(&models.Vault{}).
		Where("escrowed_amount > 0").
		Where("balance <= 0").
		Where("deposited_amount - standard_swapped_amount <= 0").
		Order("id asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
