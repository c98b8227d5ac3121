package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"calc/internal/models"
	"calc/internal/repository"
)

// Multipliers outside this band indicate a mis-published model, not a
// market condition.
var (
	minMultiplier = decimal.Zero
	maxMultiplier = decimal.NewFromInt(10)
)

// AdjustmentService maintains the risk-weighted-average multiplier table.
// Publishing is restricted to the configured admin account; the table feeds
// every vault's position sizing.
type AdjustmentService struct {
	Repo   repository.Repository
	Params EngineParams
}

func (s *AdjustmentService) UpdateSwapAdjustment(ctx context.Context, caller, positionType string, modelID uint8, multiplier decimal.Decimal) (*models.SwapAdjustment, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	if s.Params.AdminAddress == "" || strings.TrimSpace(caller) != s.Params.AdminAddress {
		return nil, ErrUnauthorized
	}
	positionType = strings.ToLower(strings.TrimSpace(positionType))
	if positionType != models.PositionTypeEnter && positionType != models.PositionTypeExit {
		return nil, validationErr("position_type", "must be %q or %q", models.PositionTypeEnter, models.PositionTypeExit)
	}
	if modelID < 30 || modelID > 90 {
		return nil, validationErr("model_id", "must be between 30 and 90")
	}
	if multiplier.LessThan(minMultiplier) || multiplier.GreaterThan(maxMultiplier) {
		return nil, validationErr("multiplier", "must be within [%s, %s]", minMultiplier, maxMultiplier)
	}
	item := &models.SwapAdjustment{
		PositionType: positionType,
		ModelID:      modelID,
		Multiplier:   multiplier,
	}
	if err := s.Repo.UpsertSwapAdjustment(ctx, item); err != nil {
		return nil, err
	}
	return s.Repo.GetSwapAdjustment(ctx, positionType, modelID)
}

func (s *AdjustmentService) GetSwapAdjustment(ctx context.Context, positionType string, modelID uint8) (*models.SwapAdjustment, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	item, err := s.Repo.GetSwapAdjustment(ctx, strings.ToLower(strings.TrimSpace(positionType)), modelID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *AdjustmentService) ListSwapAdjustments(ctx context.Context) ([]models.SwapAdjustment, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListSwapAdjustments(ctx)
}
