package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"calc/internal/config"
	"calc/internal/repository"
	"calc/internal/venue"
)

// AutomationService is the external caller of the public trigger surface:
// it sweeps due time triggers and filled price triggers and fires them one
// vault at a time. The engine itself never self-fires; with automation
// disabled anyone can drive the same endpoints by hand.
type AutomationService struct {
	Repo     repository.Repository
	Venue    venue.Venue
	Executor *TriggerExecutor
	Escrow   *EscrowService
	Logger   *zap.Logger
	Config   config.AutomationConfig
}

func (s *AutomationService) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Executor == nil {
		return nil
	}
	interval := s.Config.ScanInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.SweepOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("automation sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce fires every currently executable trigger. Per-vault failures
// are logged and skipped so one bad vault cannot stall the sweep.
func (s *AutomationService) SweepOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Executor == nil {
		return nil
	}
	limit := s.Config.SweepLimit
	if limit <= 0 {
		limit = 100
	}

	due, err := s.Repo.ListDueTimeTriggers(ctx, time.Now().UTC(), limit)
	if err != nil {
		return err
	}
	for _, trigger := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.fire(ctx, trigger.VaultID)
	}

	priced, err := s.Repo.ListPriceTriggers(ctx, limit)
	if err != nil {
		return err
	}
	for _, trigger := range priced {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.fire(ctx, trigger.VaultID)
	}
	return nil
}

func (s *AutomationService) fire(ctx context.Context, vaultID uint64) {
	err := s.Executor.ExecuteTrigger(ctx, vaultID)
	if err == nil {
		return
	}
	// NotReady is the normal outcome for an unfilled price trigger or a
	// trigger another caller raced us to.
	if errors.Is(err, ErrNotReady) || errors.Is(err, ErrNotFound) {
		return
	}
	if s.Logger != nil {
		s.Logger.Warn("automation execution failed", zap.Uint64("vault_id", vaultID), zap.Error(err))
	}
}

// SweepEscrow disburses every releasable escrow.
func (s *AutomationService) SweepEscrow(ctx context.Context) error {
	if s == nil || s.Escrow == nil {
		return nil
	}
	limit := s.Config.SweepLimit
	if limit <= 0 {
		limit = 100
	}
	tasks, err := s.Escrow.ListDisburseEscrowTasks(ctx, limit)
	if err != nil {
		return err
	}
	for _, vault := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Escrow.DisburseEscrow(ctx, vault.ID); err != nil {
			if errors.Is(err, ErrNothingToDisburse) || errors.Is(err, ErrNotReady) {
				continue
			}
			if s.Logger != nil {
				s.Logger.Warn("escrow disbursement failed", zap.Uint64("vault_id", vault.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// OpenOrderIDs feeds the venue fill stream with the order ids backing the
// current price triggers.
func (s *AutomationService) OpenOrderIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	limit := s.Config.SweepLimit
	if limit <= 0 {
		limit = 100
	}
	triggers, err := s.Repo.ListPriceTriggers(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		if trigger.OrderID != "" {
			ids = append(ids, trigger.OrderID)
		}
	}
	return ids, nil
}

// OnOrderFill reacts to a venue fill notification by finding the matching
// price trigger and executing it.
func (s *AutomationService) OnOrderFill(ctx context.Context, orderID string) {
	if s == nil || s.Repo == nil || s.Executor == nil || orderID == "" {
		return
	}
	limit := s.Config.SweepLimit
	if limit <= 0 {
		limit = 100
	}
	triggers, err := s.Repo.ListPriceTriggers(ctx, limit)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("fill lookup failed", zap.Error(err))
		}
		return
	}
	for _, trigger := range triggers {
		if trigger.OrderID == orderID {
			s.fire(ctx, trigger.VaultID)
			return
		}
	}
}
