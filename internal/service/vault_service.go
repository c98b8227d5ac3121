package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"calc/internal/models"
	"calc/internal/repository"
	"calc/internal/schedule"
	"calc/internal/treasury"
	"calc/internal/venue"
)

const maxLabelLength = 100

type CreateVaultInput struct {
	Owner                string
	Label                string
	PairAddress          string
	BaseDenom            string
	QuoteDenom           string
	SwapDenom            string
	DepositAmount        decimal.Decimal
	SwapAmount           decimal.Decimal
	TimeInterval         string
	IntervalSeconds      int64
	SlippageTolerance    *decimal.Decimal
	MinimumReceiveAmount *decimal.Decimal
	Destinations         []models.Destination
	TargetStartTime      *time.Time
	TargetPrice          *decimal.Decimal
	AdjustmentStrategy   string
	ModelID              uint8
	PerformanceStrategy  string
	EscrowLevel          *decimal.Decimal
}

// VaultService owns the vault lifecycle outside of trigger execution:
// creation, deposits, cancellation and the read surface.
type VaultService struct {
	Repo     repository.Repository
	Venue    venue.Venue
	Treasury treasury.Treasurer
	Executor *TriggerExecutor
	Params   EngineParams
	Logger   *zap.Logger

	Now func() time.Time
}

func (s *VaultService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *VaultService) CreateVault(ctx context.Context, in CreateVaultInput) (*models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("vault service is not configured")
	}
	now := s.now()
	in, err := s.validateCreate(in, now)
	if err != nil {
		return nil, err
	}
	interval, intervalSeconds, err := schedule.Normalize(in.TimeInterval, in.IntervalSeconds)
	if err != nil {
		return nil, validationErr("time_interval", "%v", err)
	}

	escrowLevel := decimal.Zero
	if in.PerformanceStrategy != "" && in.PerformanceStrategy != models.PerformanceStrategyNone {
		escrowLevel = s.Params.DefaultEscrowLevel
		if in.EscrowLevel != nil {
			escrowLevel = *in.EscrowLevel
		}
	}

	destinationsJSON, err := json.Marshal(in.Destinations)
	if err != nil {
		return nil, validationErr("destinations", "%v", err)
	}

	status := models.VaultStatusScheduled
	if in.DepositAmount.LessThan(s.Params.MinimumSwapAmount) {
		// Underfunded vaults park inactive until a deposit tops them up.
		status = models.VaultStatusInactive
	}

	vault := &models.Vault{
		Owner:                in.Owner,
		Label:                in.Label,
		Status:               status,
		PairAddress:          in.PairAddress,
		BaseDenom:            in.BaseDenom,
		QuoteDenom:           in.QuoteDenom,
		SwapDenom:            in.SwapDenom,
		Balance:              in.DepositAmount,
		DepositedAmount:      in.DepositAmount,
		SwapAmount:           in.SwapAmount,
		SwappedAmount:        decimal.Zero,
		ReceivedAmount:       decimal.Zero,
		TimeInterval:         interval,
		IntervalSeconds:      intervalSeconds,
		SlippageTolerance:    in.SlippageTolerance,
		MinimumReceiveAmount: in.MinimumReceiveAmount,
		Destinations:         datatypes.JSON(destinationsJSON),
		AdjustmentStrategy:   in.AdjustmentStrategy,
		ModelID:              in.ModelID,
		PerformanceStrategy:  in.PerformanceStrategy,
		EscrowLevel:          escrowLevel,
		EscrowedAmount:       decimal.Zero,
	}

	// A price target becomes a venue limit order before anything persists;
	// if the transaction below fails the order is withdrawn.
	orderID := ""
	if status != models.VaultStatusInactive && in.TargetPrice != nil {
		orderID, err = s.Venue.SubmitLimitOrder(ctx, in.PairAddress, in.SwapDenom, in.SwapAmount, *in.TargetPrice)
		if err != nil {
			return nil, &VenueError{Op: "submit limit order", Err: err}
		}
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.InsertVaultTx(ctx, tx, vault); err != nil {
			return err
		}
		if err := s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventVaultCreated, nil)); err != nil {
			return err
		}
		if err := s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventFundsDeposited, models.FundsDepositedPayload{
			Denom:  vault.SwapDenom,
			Amount: in.DepositAmount,
		})); err != nil {
			return err
		}
		if status == models.VaultStatusInactive {
			return nil
		}
		trigger := &models.Trigger{VaultID: vault.ID}
		switch {
		case in.TargetPrice != nil:
			trigger.Kind = models.TriggerKindPrice
			trigger.TargetPrice = in.TargetPrice
			trigger.OrderID = orderID
		case in.TargetStartTime != nil:
			trigger.Kind = models.TriggerKindTime
			trigger.TargetTime = in.TargetStartTime
		default:
			// No override: the first execution is due immediately.
			trigger.Kind = models.TriggerKindTime
			due := now
			trigger.TargetTime = &due
		}
		return s.Repo.SaveTriggerTx(ctx, tx, trigger)
	})
	if err != nil {
		if orderID != "" {
			if wErr := s.Venue.WithdrawLimitOrder(ctx, in.PairAddress, orderID); wErr != nil && s.Logger != nil {
				s.Logger.Warn("failed to withdraw orphaned limit order", zap.String("order_id", orderID), zap.Error(wErr))
			}
		}
		return nil, err
	}

	if status != models.VaultStatusInactive && in.TargetPrice == nil && in.TargetStartTime == nil && s.Executor != nil {
		if err := s.Executor.ExecuteTrigger(ctx, vault.ID); err != nil && s.Logger != nil {
			s.Logger.Warn("immediate first execution failed", zap.Uint64("vault_id", vault.ID), zap.Error(err))
		}
	}

	return s.Repo.GetVaultByID(ctx, vault.ID)
}

func (s *VaultService) validateCreate(in CreateVaultInput, now time.Time) (CreateVaultInput, error) {
	in.Owner = strings.TrimSpace(in.Owner)
	in.Label = strings.TrimSpace(in.Label)
	in.PairAddress = strings.TrimSpace(in.PairAddress)
	in.BaseDenom = strings.TrimSpace(in.BaseDenom)
	in.QuoteDenom = strings.TrimSpace(in.QuoteDenom)
	in.SwapDenom = strings.TrimSpace(in.SwapDenom)
	in.AdjustmentStrategy = strings.TrimSpace(in.AdjustmentStrategy)
	in.PerformanceStrategy = strings.TrimSpace(in.PerformanceStrategy)

	if in.Owner == "" {
		return in, validationErr("owner", "is required")
	}
	if in.PairAddress == "" {
		return in, validationErr("pair_address", "is required")
	}
	if in.BaseDenom == "" || in.QuoteDenom == "" || in.BaseDenom == in.QuoteDenom {
		return in, validationErr("pair", "base and quote denoms must be distinct and non-empty")
	}
	if in.SwapDenom != in.BaseDenom && in.SwapDenom != in.QuoteDenom {
		return in, validationErr("swap_denom", "must be exactly one of the pair denoms")
	}
	if len(in.Label) > maxLabelLength {
		return in, validationErr("label", "must be at most %d characters", maxLabelLength)
	}
	if !in.DepositAmount.IsPositive() {
		return in, validationErr("deposit_amount", "must be positive")
	}
	if in.SwapAmount.LessThan(s.Params.MinimumSwapAmount) {
		return in, validationErr("swap_amount", "must be at least %s", s.Params.MinimumSwapAmount)
	}
	if in.SlippageTolerance != nil && (in.SlippageTolerance.IsNegative() || in.SlippageTolerance.GreaterThan(decimal.NewFromInt(1))) {
		return in, validationErr("slippage_tolerance", "must be within [0, 1]")
	}
	if in.TargetStartTime != nil && in.TargetPrice != nil {
		return in, validationErr("trigger", "cannot set both a target time and a target price")
	}
	if in.TargetStartTime != nil && !in.TargetStartTime.After(now) {
		return in, validationErr("target_start_time", "must be in the future")
	}
	if in.TargetPrice != nil && !in.TargetPrice.IsPositive() {
		return in, validationErr("target_price", "must be positive")
	}

	if len(in.Destinations) == 0 {
		in.Destinations = []models.Destination{{Address: in.Owner, Allocation: decimal.NewFromInt(1)}}
	}
	if len(in.Destinations) > s.Params.MaxDestinations {
		return in, validationErr("destinations", "at most %d destinations allowed", s.Params.MaxDestinations)
	}
	total := decimal.Zero
	for i := range in.Destinations {
		in.Destinations[i].Address = strings.TrimSpace(in.Destinations[i].Address)
		if in.Destinations[i].Address == "" {
			return in, validationErr("destinations", "destination address is required")
		}
		if !in.Destinations[i].Allocation.IsPositive() {
			return in, validationErr("destinations", "allocations must be positive")
		}
		total = total.Add(in.Destinations[i].Allocation)
	}
	if !total.Equal(decimal.NewFromInt(1)) {
		return in, validationErr("destinations", "allocations must sum to exactly 1, got %s", total)
	}

	switch in.AdjustmentStrategy {
	case "", models.AdjustmentStrategyNone:
		in.AdjustmentStrategy = ""
		if in.ModelID != 0 {
			return in, validationErr("model_id", "requires an adjustment strategy")
		}
	case models.AdjustmentStrategyRiskWeighted:
		if in.ModelID < 30 || in.ModelID > 90 {
			return in, validationErr("model_id", "must be between 30 and 90")
		}
	default:
		return in, validationErr("adjustment_strategy", "unknown strategy %q", in.AdjustmentStrategy)
	}

	switch in.PerformanceStrategy {
	case "", models.PerformanceStrategyNone:
		in.PerformanceStrategy = ""
		if in.EscrowLevel != nil && in.EscrowLevel.IsPositive() {
			return in, validationErr("escrow_level", "requires a performance assessment strategy")
		}
	case models.PerformanceStrategyCompareDCA:
		if in.AdjustmentStrategy == "" {
			return in, validationErr("performance_strategy", "requires an adjustment strategy")
		}
		if in.EscrowLevel != nil && (in.EscrowLevel.IsNegative() || in.EscrowLevel.GreaterThan(decimal.NewFromInt(1))) {
			return in, validationErr("escrow_level", "must be within [0, 1]")
		}
	default:
		return in, validationErr("performance_strategy", "unknown strategy %q", in.PerformanceStrategy)
	}

	return in, nil
}

func (s *VaultService) Deposit(ctx context.Context, caller string, vaultID uint64, denom string, amount decimal.Decimal) (*models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	if !amount.IsPositive() {
		return nil, validationErr("amount", "must be positive")
	}
	now := s.now()
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		vault, err := s.Repo.GetVaultByIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if vault == nil {
			return ErrNotFound
		}
		if vault.IsCancelled() {
			return validationErr("vault", "is cancelled")
		}
		if caller != vault.Owner {
			return ErrUnauthorized
		}
		if strings.TrimSpace(denom) != vault.SwapDenom {
			return validationErr("denom", "must match the vault's swap denom %s", vault.SwapDenom)
		}
		vault.Balance = vault.Balance.Add(amount)
		vault.DepositedAmount = vault.DepositedAmount.Add(amount)
		if vault.Status == models.VaultStatusInactive && !vault.Balance.LessThan(s.Params.MinimumSwapAmount) {
			vault.Status = models.VaultStatusActive
		}
		if err := s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventFundsDeposited, models.FundsDepositedPayload{
			Denom:  vault.SwapDenom,
			Amount: amount,
		})); err != nil {
			return err
		}
		if err := s.Repo.SaveVaultTx(ctx, tx, vault); err != nil {
			return err
		}
		trigger, err := s.Repo.GetTriggerByVaultIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if trigger == nil && vault.Status == models.VaultStatusActive {
			due := now
			return s.Repo.SaveTriggerTx(ctx, tx, &models.Trigger{
				VaultID:    vault.ID,
				Kind:       models.TriggerKindTime,
				TargetTime: &due,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetVaultByID(ctx, vaultID)
}

func (s *VaultService) CancelVault(ctx context.Context, caller string, vaultID uint64) (*models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	now := s.now()

	vault, err := s.Repo.GetVaultByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, ErrNotFound
	}
	if caller != vault.Owner {
		return nil, ErrUnauthorized
	}
	if vault.IsCancelled() {
		return nil, validationErr("vault", "is already cancelled")
	}

	// Withdraw an outstanding conditional order before touching state. The
	// order never held vault funds, so the refund is the balance alone.
	trigger, err := s.Repo.GetTriggerByVaultID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if trigger != nil && trigger.Kind == models.TriggerKindPrice && trigger.OrderID != "" {
		if err := s.Venue.WithdrawLimitOrder(ctx, vault.PairAddress, trigger.OrderID); err != nil {
			return nil, &VenueError{Op: "withdraw limit order", Err: err}
		}
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		vault, err = s.Repo.GetVaultByIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if vault == nil || vault.IsCancelled() {
			return ErrNotFound
		}
		refund := vault.Balance.Floor()
		if refund.IsPositive() {
			if err := s.Treasury.SendTx(ctx, tx, treasury.Payment{
				VaultID:   vault.ID,
				Recipient: vault.Owner,
				Denom:     vault.SwapDenom,
				Amount:    refund,
				Reason:    models.PayoutReasonRefund,
			}); err != nil {
				return err
			}
		}
		vault.Balance = decimal.Zero
		vault.Status = models.VaultStatusCancelled
		if err := s.Repo.SaveVaultTx(ctx, tx, vault); err != nil {
			return err
		}
		if err := s.Repo.DeleteTriggerTx(ctx, tx, vault.ID); err != nil {
			return err
		}
		return s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventVaultCancelled, nil))
	})
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("vault cancelled", zap.Uint64("vault_id", vaultID))
	}
	return s.Repo.GetVaultByID(ctx, vaultID)
}

func (s *VaultService) UpdateLabel(ctx context.Context, caller string, vaultID uint64, label string) (*models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLength {
		return nil, validationErr("label", "must be at most %d characters", maxLabelLength)
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		vault, err := s.Repo.GetVaultByIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if vault == nil {
			return ErrNotFound
		}
		if caller != vault.Owner {
			return ErrUnauthorized
		}
		vault.Label = label
		return s.Repo.SaveVaultTx(ctx, tx, vault)
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetVaultByID(ctx, vaultID)
}

func (s *VaultService) GetVault(ctx context.Context, vaultID uint64) (*models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	vault, err := s.Repo.GetVaultByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, ErrNotFound
	}
	return vault, nil
}

func (s *VaultService) ListVaults(ctx context.Context, params repository.ListVaultsParams) ([]models.Vault, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, nil
	}
	items, err := s.Repo.ListVaults(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountVaults(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *VaultService) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, nil
	}
	items, err := s.Repo.ListEventsByResourceID(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountEventsByResourceID(ctx, params.ResourceID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
