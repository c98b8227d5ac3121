package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"calc/internal/models"
	"calc/internal/repository"
	"calc/internal/treasury"
	"calc/internal/venue"
)

type adjustmentKey struct {
	positionType string
	modelID      uint8
}

type stubRepo struct {
	vaults      map[uint64]models.Vault
	triggers    map[uint64]models.Trigger
	events      []models.Event
	adjustments map[adjustmentKey]models.SwapAdjustment
	payouts     []models.Payout
	nextID      uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		vaults:      map[uint64]models.Vault{},
		triggers:    map[uint64]models.Trigger{},
		adjustments: map[adjustmentKey]models.SwapAdjustment{},
	}
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) InsertVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error {
	if item.ID == 0 {
		r.nextID++
		item.ID = r.nextID
	}
	r.vaults[item.ID] = *item
	return nil
}

func (r *stubRepo) SaveVaultTx(ctx context.Context, tx *gorm.DB, item *models.Vault) error {
	r.vaults[item.ID] = *item
	return nil
}

func (r *stubRepo) GetVaultByID(ctx context.Context, id uint64) (*models.Vault, error) {
	item, ok := r.vaults[id]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (r *stubRepo) GetVaultByIDTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Vault, error) {
	return r.GetVaultByID(ctx, id)
}

func (r *stubRepo) ListVaults(ctx context.Context, params repository.ListVaultsParams) ([]models.Vault, error) {
	out := make([]models.Vault, 0, len(r.vaults))
	for _, item := range r.vaults {
		if params.Owner != nil && item.Owner != *params.Owner {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *stubRepo) CountVaults(ctx context.Context, params repository.ListVaultsParams) (int64, error) {
	items, _ := r.ListVaults(ctx, params)
	return int64(len(items)), nil
}

func (r *stubRepo) SaveTriggerTx(ctx context.Context, tx *gorm.DB, item *models.Trigger) error {
	r.triggers[item.VaultID] = *item
	return nil
}

func (r *stubRepo) DeleteTriggerTx(ctx context.Context, tx *gorm.DB, vaultID uint64) error {
	delete(r.triggers, vaultID)
	return nil
}

func (r *stubRepo) GetTriggerByVaultID(ctx context.Context, vaultID uint64) (*models.Trigger, error) {
	item, ok := r.triggers[vaultID]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (r *stubRepo) GetTriggerByVaultIDTx(ctx context.Context, tx *gorm.DB, vaultID uint64) (*models.Trigger, error) {
	return r.GetTriggerByVaultID(ctx, vaultID)
}

func (r *stubRepo) ListDueTimeTriggers(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error) {
	out := make([]models.Trigger, 0)
	for _, item := range r.triggers {
		if item.Kind == models.TriggerKindTime && item.TargetTime != nil && !item.TargetTime.After(now) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *stubRepo) ListPriceTriggers(ctx context.Context, limit int) ([]models.Trigger, error) {
	out := make([]models.Trigger, 0)
	for _, item := range r.triggers {
		if item.Kind == models.TriggerKindPrice {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *stubRepo) AppendEventTx(ctx context.Context, tx *gorm.DB, item *models.Event) error {
	item.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, *item)
	return nil
}

func (r *stubRepo) ListEventsByResourceID(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	out := make([]models.Event, 0)
	for _, item := range r.events {
		if item.ResourceID == params.ResourceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *stubRepo) CountEventsByResourceID(ctx context.Context, resourceID uint64) (int64, error) {
	items, _ := r.ListEventsByResourceID(ctx, repository.ListEventsParams{ResourceID: resourceID})
	return int64(len(items)), nil
}

func (r *stubRepo) GetSwapAdjustment(ctx context.Context, positionType string, modelID uint8) (*models.SwapAdjustment, error) {
	item, ok := r.adjustments[adjustmentKey{positionType, modelID}]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (r *stubRepo) UpsertSwapAdjustment(ctx context.Context, item *models.SwapAdjustment) error {
	r.adjustments[adjustmentKey{item.PositionType, item.ModelID}] = *item
	return nil
}

func (r *stubRepo) ListSwapAdjustments(ctx context.Context) ([]models.SwapAdjustment, error) {
	out := make([]models.SwapAdjustment, 0, len(r.adjustments))
	for _, item := range r.adjustments {
		out = append(out, item)
	}
	return out, nil
}

func (r *stubRepo) InsertPayoutTx(ctx context.Context, tx *gorm.DB, item *models.Payout) error {
	item.ID = uint64(len(r.payouts) + 1)
	r.payouts = append(r.payouts, *item)
	return nil
}

func (r *stubRepo) ListPayoutsByVaultID(ctx context.Context, vaultID uint64, limit int) ([]models.Payout, error) {
	out := make([]models.Payout, 0)
	for _, item := range r.payouts {
		if item.VaultID == vaultID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *stubRepo) ListDisburseEscrowCandidates(ctx context.Context, limit int) ([]models.Vault, error) {
	out := make([]models.Vault, 0)
	for _, item := range r.vaults {
		if item.EscrowedAmount.IsPositive() && !item.Balance.IsPositive() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *stubRepo) eventTypes(vaultID uint64) []string {
	out := make([]string, 0)
	for _, item := range r.events {
		if item.ResourceID == vaultID {
			out = append(out, item.Type)
		}
	}
	return out
}

func (r *stubRepo) payoutsByReason(vaultID uint64, reason string) []models.Payout {
	out := make([]models.Payout, 0)
	for _, item := range r.payouts {
		if item.VaultID == vaultID && item.Reason == reason {
			out = append(out, item)
		}
	}
	return out
}

type stubVenue struct {
	price       decimal.Decimal
	rate        decimal.Decimal
	fillRate    decimal.Decimal
	spotErr     error
	simulateErr error
	swapErr     error
	orderFilled bool
	orderErr    error
	submitted   []string
	withdrawn   []string
	lastSwap    venue.SwapRequest
	swapCalls   int
}

func newStubVenue() *stubVenue {
	return &stubVenue{
		price: decimal.NewFromInt(1),
		rate:  decimal.NewFromInt(1),
	}
}

func (v *stubVenue) SpotPrice(ctx context.Context, pairAddress, swapDenom string) (decimal.Decimal, error) {
	if v.spotErr != nil {
		return decimal.Decimal{}, v.spotErr
	}
	return v.price, nil
}

func (v *stubVenue) ExpectedReceiveAmount(ctx context.Context, pairAddress, swapDenom string, amount decimal.Decimal) (decimal.Decimal, error) {
	if v.simulateErr != nil {
		return decimal.Decimal{}, v.simulateErr
	}
	return amount.Mul(v.rate).Floor(), nil
}

func (v *stubVenue) Swap(ctx context.Context, req venue.SwapRequest) (*venue.SwapResult, error) {
	v.lastSwap = req
	if v.swapErr != nil {
		return nil, v.swapErr
	}
	fill := v.rate
	if v.fillRate.IsPositive() {
		fill = v.fillRate
	}
	if req.SlippageTolerance != nil {
		worst := v.rate.Mul(decimal.NewFromInt(1).Sub(*req.SlippageTolerance))
		if fill.LessThan(worst) {
			return nil, venue.ErrSlippageExceeded
		}
	}
	v.swapCalls++
	return &venue.SwapResult{
		Sent:     req.Amount,
		Received: req.Amount.Mul(fill).Floor(),
		Price:    v.price,
	}, nil
}

func (v *stubVenue) SubmitLimitOrder(ctx context.Context, pairAddress, swapDenom string, amount, targetPrice decimal.Decimal) (string, error) {
	id := "order-1"
	v.submitted = append(v.submitted, id)
	return id, nil
}

func (v *stubVenue) LimitOrderFilled(ctx context.Context, pairAddress, orderID string) (bool, error) {
	if v.orderErr != nil {
		return false, v.orderErr
	}
	return v.orderFilled, nil
}

func (v *stubVenue) WithdrawLimitOrder(ctx context.Context, pairAddress, orderID string) error {
	v.withdrawn = append(v.withdrawn, orderID)
	return nil
}

type stubTreasury struct {
	repo      *stubRepo
	invokeErr error
	invoked   []string
}

func (t *stubTreasury) SendTx(ctx context.Context, tx *gorm.DB, p treasury.Payment) error {
	return t.repo.InsertPayoutTx(ctx, tx, &models.Payout{
		VaultID:   p.VaultID,
		Recipient: p.Recipient,
		Denom:     p.Denom,
		Amount:    p.Amount,
		Reason:    p.Reason,
	})
}

func (t *stubTreasury) InvokeTx(ctx context.Context, tx *gorm.DB, p treasury.Payment, callback string) error {
	if t.invokeErr != nil {
		return t.invokeErr
	}
	t.invoked = append(t.invoked, callback)
	return t.SendTx(ctx, tx, p)
}
