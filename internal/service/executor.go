package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"calc/internal/fees"
	"calc/internal/models"
	"calc/internal/repository"
	"calc/internal/schedule"
	"calc/internal/treasury"
	"calc/internal/venue"
)

// TriggerExecutor fires one pending trigger: it validates readiness, runs
// the swap with its guards, settles fees, escrow and disbursement, and
// recomputes the vault's status and next trigger. The whole cycle commits
// atomically; rejected calls leave no state behind.
type TriggerExecutor struct {
	Repo     repository.Repository
	Venue    venue.Venue
	Treasury treasury.Treasurer
	Fees     fees.Calculator
	Params   EngineParams
	Logger   *zap.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func (e *TriggerExecutor) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *TriggerExecutor) ExecuteTrigger(ctx context.Context, vaultID uint64) error {
	if e == nil || e.Repo == nil || e.Venue == nil || e.Treasury == nil {
		return errors.New("trigger executor is not configured")
	}
	now := e.now()
	return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		vault, err := e.Repo.GetVaultByIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if vault == nil || vault.IsCancelled() {
			return ErrNotFound
		}
		trigger, err := e.Repo.GetTriggerByVaultIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if trigger == nil {
			return ErrNotFound
		}
		if err := e.checkReady(ctx, vault, trigger, now); err != nil {
			return err
		}
		// Consume the trigger first; a racing second caller observes
		// NotFound once this transaction commits.
		if err := e.Repo.DeleteTriggerTx(ctx, tx, vaultID); err != nil {
			return err
		}
		return e.runCycle(ctx, tx, vault, trigger, now)
	})
}

func (e *TriggerExecutor) checkReady(ctx context.Context, vault *models.Vault, trigger *models.Trigger, now time.Time) error {
	switch trigger.Kind {
	case models.TriggerKindTime:
		if trigger.TargetTime == nil || now.Before(*trigger.TargetTime) {
			return ErrNotReady
		}
		return nil
	case models.TriggerKindPrice:
		if trigger.OrderID == "" {
			return ErrNotReady
		}
		filled, err := e.Venue.LimitOrderFilled(ctx, vault.PairAddress, trigger.OrderID)
		if err != nil {
			return &VenueError{Op: "query order fill", Err: err}
		}
		if !filled {
			return ErrNotReady
		}
		return nil
	}
	return ErrNotReady
}

func (e *TriggerExecutor) runCycle(ctx context.Context, tx *gorm.DB, vault *models.Vault, trigger *models.Trigger, now time.Time) error {
	adjustmentActive := vault.AdjustmentStrategy != "" && vault.AdjustmentStrategy != models.AdjustmentStrategyNone
	multiplier := decimal.NewFromInt(1)
	if adjustmentActive {
		adj, err := e.Repo.GetSwapAdjustment(ctx, vault.PositionType(), vault.ModelID)
		if err != nil {
			return err
		}
		if adj != nil {
			multiplier = adj.Multiplier
		}
	}
	adjusted := fees.AdjustedSwapAmount(vault.SwapAmount, multiplier, vault.Balance)

	if !adjusted.IsPositive() {
		return e.simulatedOnlyCycle(ctx, tx, vault, trigger, now, adjustmentActive)
	}

	price, err := e.Venue.SpotPrice(ctx, vault.PairAddress, vault.SwapDenom)
	if err != nil {
		if trigger.Kind == models.TriggerKindPrice {
			return &VenueError{Op: "spot price", Err: err}
		}
		return e.skip(ctx, tx, vault, trigger, now, models.SkipReasonSlippageToleranceExceeded, nil)
	}
	if err := e.appendEvent(ctx, tx, vault.ID, now, models.EventExecutionTriggered, models.ExecutionTriggeredPayload{
		BaseDenom:  vault.BaseDenom,
		QuoteDenom: vault.QuoteDenom,
		AssetPrice: price,
	}); err != nil {
		return err
	}

	if vault.MinimumReceiveAmount != nil {
		expected, err := e.Venue.ExpectedReceiveAmount(ctx, vault.PairAddress, vault.SwapDenom, adjusted)
		if err != nil {
			if trigger.Kind == models.TriggerKindPrice {
				return &VenueError{Op: "simulate swap", Err: err}
			}
			return e.skip(ctx, tx, vault, trigger, now, models.SkipReasonSlippageToleranceExceeded, nil)
		}
		if expected.LessThan(*vault.MinimumReceiveAmount) {
			return e.skip(ctx, tx, vault, trigger, now, models.SkipReasonPriceThresholdExceeded, &price)
		}
	}

	result, err := e.Venue.Swap(ctx, venue.SwapRequest{
		PairAddress:          vault.PairAddress,
		SwapDenom:            vault.SwapDenom,
		Amount:               adjusted,
		SlippageTolerance:    vault.SlippageTolerance,
		MinimumReceiveAmount: vault.MinimumReceiveAmount,
	})
	if err != nil {
		if errors.Is(err, venue.ErrSlippageExceeded) {
			return e.skip(ctx, tx, vault, trigger, now, models.SkipReasonSlippageToleranceExceeded, nil)
		}
		if trigger.Kind == models.TriggerKindPrice {
			return &VenueError{Op: "swap", Err: err}
		}
		return e.skip(ctx, tx, vault, trigger, now, models.SkipReasonSlippageToleranceExceeded, nil)
	}

	fee := e.Fees.SwapFee(result.Received, adjustmentActive)
	net := result.Received.Sub(fee)
	vault.Balance = vault.Balance.Sub(adjusted)
	vault.SwappedAmount = vault.SwappedAmount.Add(adjusted)
	vault.ReceivedAmount = vault.ReceivedAmount.Add(net)
	if fee.IsPositive() && e.Params.FeeCollector != "" {
		if err := e.Treasury.SendTx(ctx, tx, treasury.Payment{
			VaultID:   vault.ID,
			Recipient: e.Params.FeeCollector,
			Denom:     vault.TargetDenom(),
			Amount:    fee,
			Reason:    models.PayoutReasonSwapFee,
		}); err != nil {
			return err
		}
	}

	if vault.HasPerformanceAssessment() && !vault.StandardRunFinished() {
		if err := e.advanceShadowFromFill(ctx, tx, vault, now, adjusted, result.Received, adjustmentActive); err != nil {
			return err
		}
	}

	disbursable := net
	if vault.HasPerformanceAssessment() && vault.EscrowLevel.IsPositive() {
		withheld := fees.EscrowAmount(vault.EscrowLevel, net)
		vault.EscrowedAmount = vault.EscrowedAmount.Add(withheld)
		disbursable = net.Sub(withheld)
	}
	if disbursable.IsPositive() {
		if err := e.disburse(ctx, tx, vault, now, disbursable); err != nil {
			return err
		}
	}

	if err := e.appendEvent(ctx, tx, vault.ID, now, models.EventExecutionCompleted, models.ExecutionCompletedPayload{
		SentDenom:     vault.SwapDenom,
		Sent:          adjusted,
		ReceivedDenom: vault.TargetDenom(),
		Received:      result.Received,
		Fee:           fee,
	}); err != nil {
		return err
	}

	if vault.StartedAt == nil {
		started := now
		vault.StartedAt = &started
	}
	if vault.Status == models.VaultStatusScheduled || vault.Status == models.VaultStatusInactive {
		vault.Status = models.VaultStatusActive
	}
	if e.Logger != nil {
		e.Logger.Info("trigger executed",
			zap.Uint64("vault_id", vault.ID),
			zap.String("sent", adjusted.String()),
			zap.String("received", result.Received.String()))
	}
	return e.finishCycle(ctx, tx, vault, trigger, now)
}

// simulatedOnlyCycle handles a cycle whose adjusted swap amount is zero:
// nothing real is swapped, but the standard shadow run still advances and
// the cadence keeps going while it has balance left.
func (e *TriggerExecutor) simulatedOnlyCycle(ctx context.Context, tx *gorm.DB, vault *models.Vault, trigger *models.Trigger, now time.Time, adjustmentActive bool) error {
	if !vault.IsEmpty() {
		if err := e.appendEvent(ctx, tx, vault.ID, now, models.EventExecutionSkipped, models.ExecutionSkippedPayload{
			Reason: models.SkipReasonSwapAmountAdjustedToZero,
		}); err != nil {
			return err
		}
	}
	if vault.HasPerformanceAssessment() && !vault.StandardRunFinished() {
		if err := e.advanceShadowSimulated(ctx, tx, vault, now, adjustmentActive); err != nil {
			return err
		}
	}
	return e.finishCycle(ctx, tx, vault, trigger, now)
}

// skip records a guard skip and reschedules. It is a successful no-op
// execution: balances are untouched and the caller sees no error.
func (e *TriggerExecutor) skip(ctx context.Context, tx *gorm.DB, vault *models.Vault, trigger *models.Trigger, now time.Time, reason string, price *decimal.Decimal) error {
	if err := e.appendEvent(ctx, tx, vault.ID, now, models.EventExecutionSkipped, models.ExecutionSkippedPayload{
		Reason: reason,
		Price:  price,
	}); err != nil {
		return err
	}
	if e.Logger != nil {
		e.Logger.Info("execution skipped",
			zap.Uint64("vault_id", vault.ID),
			zap.String("reason", reason))
	}
	return e.finishCycle(ctx, tx, vault, trigger, now)
}

// advanceShadowFromFill moves the standard shadow run forward using the
// actual fill's price, so the two runs can never diverge in rounding.
func (e *TriggerExecutor) advanceShadowFromFill(ctx context.Context, tx *gorm.DB, vault *models.Vault, now time.Time, adjusted, grossReceived decimal.Decimal, adjustmentActive bool) error {
	stdAmount := vault.SwapAmount
	if remaining := vault.StandardBalance(); stdAmount.GreaterThan(remaining) {
		stdAmount = remaining
	}
	if !stdAmount.IsPositive() {
		return nil
	}
	gross := grossReceived.Mul(stdAmount).Div(adjusted).Floor()
	return e.recordShadowFill(ctx, tx, vault, now, stdAmount, gross, adjustmentActive)
}

// advanceShadowSimulated quotes the venue for the standard amount on cycles
// with no real fill to derive the price from.
func (e *TriggerExecutor) advanceShadowSimulated(ctx context.Context, tx *gorm.DB, vault *models.Vault, now time.Time, adjustmentActive bool) error {
	stdAmount := vault.SwapAmount
	if remaining := vault.StandardBalance(); stdAmount.GreaterThan(remaining) {
		stdAmount = remaining
	}
	if !stdAmount.IsPositive() {
		return nil
	}
	gross, err := e.Venue.ExpectedReceiveAmount(ctx, vault.PairAddress, vault.SwapDenom, stdAmount)
	if err != nil {
		return e.appendEvent(ctx, tx, vault.ID, now, models.EventSimulatedExecutionSkipped, models.ExecutionSkippedPayload{
			Reason: models.SkipReasonSlippageToleranceExceeded,
		})
	}
	return e.recordShadowFill(ctx, tx, vault, now, stdAmount, gross.Floor(), adjustmentActive)
}

func (e *TriggerExecutor) recordShadowFill(ctx context.Context, tx *gorm.DB, vault *models.Vault, now time.Time, stdAmount, gross decimal.Decimal, adjustmentActive bool) error {
	fee := e.Fees.SwapFee(gross, adjustmentActive)
	net := gross.Sub(fee)
	vault.StandardSwappedAmount = vault.StandardSwappedAmount.Add(stdAmount)
	vault.StandardReceivedAmount = vault.StandardReceivedAmount.Add(net)
	return e.appendEvent(ctx, tx, vault.ID, now, models.EventSimulatedExecutionCompleted, models.ExecutionCompletedPayload{
		SentDenom:     vault.SwapDenom,
		Sent:          stdAmount,
		ReceivedDenom: vault.TargetDenom(),
		Received:      gross,
		Fee:           fee,
	})
}

// disburse fans proceeds out across the vault's destinations. A failing
// callback leg degrades to a plain transfer to the owner; fan-out never
// fails the execution.
func (e *TriggerExecutor) disburse(ctx context.Context, tx *gorm.DB, vault *models.Vault, now time.Time, disbursable decimal.Decimal) error {
	destinations := decodeDestinations(vault.Destinations)
	if len(destinations) == 0 {
		destinations = []models.Destination{{Address: vault.Owner, Allocation: decimal.NewFromInt(1)}}
	}
	denom := vault.TargetDenom()
	for _, dest := range destinations {
		amount := disbursable.Mul(dest.Allocation).Floor()
		if !amount.IsPositive() {
			continue
		}
		payment := treasury.Payment{
			VaultID:   vault.ID,
			Recipient: dest.Address,
			Denom:     denom,
			Amount:    amount,
			Reason:    models.PayoutReasonDisbursement,
		}
		if dest.Callback != "" {
			if err := e.Treasury.InvokeTx(ctx, tx, payment, dest.Callback); err != nil {
				fallback := payment
				fallback.Recipient = vault.Owner
				fallback.Reason = models.PayoutReasonCallbackFallback
				if sendErr := e.Treasury.SendTx(ctx, tx, fallback); sendErr != nil {
					return sendErr
				}
				if evErr := e.appendEvent(ctx, tx, vault.ID, now, models.EventAutomationFailed, models.AutomationFailedPayload{
					Destination: dest.Address,
					Denom:       denom,
					Amount:      amount,
					Error:       err.Error(),
				}); evErr != nil {
					return evErr
				}
				if e.Logger != nil {
					e.Logger.Warn("destination callback failed, funds routed to owner",
						zap.Uint64("vault_id", vault.ID),
						zap.String("destination", dest.Address),
						zap.Error(err))
				}
			}
			continue
		}
		if err := e.Treasury.SendTx(ctx, tx, payment); err != nil {
			return err
		}
	}
	return nil
}

// finishCycle persists the vault and writes the next trigger. The trigger
// survives an empty vault for as long as the standard shadow run is still
// catching up; once both runs are done it is cleared for good.
func (e *TriggerExecutor) finishCycle(ctx context.Context, tx *gorm.DB, vault *models.Vault, trigger *models.Trigger, now time.Time) error {
	shadowPending := vault.HasPerformanceAssessment() && !vault.StandardRunFinished()
	if vault.IsEmpty() {
		vault.Status = models.VaultStatusInactive
	}
	if err := e.Repo.SaveVaultTx(ctx, tx, vault); err != nil {
		return err
	}
	if vault.IsEmpty() && !shadowPending {
		return nil
	}
	base := now
	if trigger.Kind == models.TriggerKindTime && trigger.TargetTime != nil {
		base = *trigger.TargetTime
	}
	next := schedule.NextTargetTime(base, now, vault.TimeInterval, vault.IntervalSeconds)
	return e.Repo.SaveTriggerTx(ctx, tx, &models.Trigger{
		VaultID:    vault.ID,
		Kind:       models.TriggerKindTime,
		TargetTime: &next,
	})
}

func (e *TriggerExecutor) appendEvent(ctx context.Context, tx *gorm.DB, vaultID uint64, at time.Time, eventType string, payload any) error {
	return e.Repo.AppendEventTx(ctx, tx, models.NewEvent(vaultID, at, eventType, payload))
}

func decodeDestinations(raw []byte) []models.Destination {
	if len(raw) == 0 {
		return nil
	}
	var destinations []models.Destination
	if err := json.Unmarshal(raw, &destinations); err != nil {
		return nil
	}
	return destinations
}
