package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"calc/internal/fees"
	"calc/internal/models"
	"calc/internal/repository"
	"calc/internal/treasury"
)

// VaultPerformance reports how a vault fared against its standard
// counterpart.
type VaultPerformance struct {
	Fee    decimal.Decimal `json:"fee"`
	Factor decimal.Decimal `json:"factor"`
}

// EscrowService settles withheld proceeds once a vault's adjusted and
// standard runs have both finished.
type EscrowService struct {
	Repo     repository.Repository
	Treasury treasury.Treasurer
	Fees     fees.Calculator
	Params   EngineParams
	Logger   *zap.Logger

	Now func() time.Time
}

func (s *EscrowService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// DisburseEscrow releases a finished vault's escrow: the performance fee on
// outperformance goes to the fee collector, the rest to the owner.
func (s *EscrowService) DisburseEscrow(ctx context.Context, vaultID uint64) (*VaultPerformance, error) {
	if s == nil || s.Repo == nil || s.Treasury == nil {
		return nil, ErrNotFound
	}
	now := s.now()
	var result VaultPerformance
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		vault, err := s.Repo.GetVaultByIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if vault == nil {
			return ErrNotFound
		}
		if !vault.EscrowedAmount.IsPositive() {
			return ErrNothingToDisburse
		}
		if !vault.IsEmpty() || (vault.HasPerformanceAssessment() && !vault.StandardRunFinished()) {
			return ErrNotReady
		}

		fee := s.Fees.PerformanceFee(vault.ReceivedAmount, vault.StandardReceivedAmount, vault.EscrowedAmount)
		ownerShare := vault.EscrowedAmount.Sub(fee)
		denom := vault.TargetDenom()

		if fee.IsPositive() && s.Params.FeeCollector != "" {
			if err := s.Treasury.SendTx(ctx, tx, treasury.Payment{
				VaultID:   vault.ID,
				Recipient: s.Params.FeeCollector,
				Denom:     denom,
				Amount:    fee,
				Reason:    models.PayoutReasonPerformanceFee,
			}); err != nil {
				return err
			}
		}
		if ownerShare.IsPositive() {
			if err := s.Treasury.SendTx(ctx, tx, treasury.Payment{
				VaultID:   vault.ID,
				Recipient: vault.Owner,
				Denom:     denom,
				Amount:    ownerShare,
				Reason:    models.PayoutReasonEscrowRelease,
			}); err != nil {
				return err
			}
		}

		if err := s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventEscrowDisbursed, models.EscrowDisbursedPayload{
			Denom:           denom,
			AmountDisbursed: ownerShare,
			PerformanceFee:  fee,
		})); err != nil {
			return err
		}

		vault.EscrowedAmount = decimal.Zero
		if err := s.Repo.SaveVaultTx(ctx, tx, vault); err != nil {
			return err
		}
		result = VaultPerformance{
			Fee:    fee,
			Factor: fees.PerformanceFactor(vault.ReceivedAmount, vault.StandardReceivedAmount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("escrow disbursed",
			zap.Uint64("vault_id", vaultID),
			zap.String("performance_fee", result.Fee.String()))
	}
	return &result, nil
}

// ClaimEscrowedFunds releases the full escrow to the owner without a
// performance comparison. Only available once no trigger remains.
func (s *EscrowService) ClaimEscrowedFunds(ctx context.Context, caller string, vaultID uint64) (*models.Vault, error) {
	if s == nil || s.Repo == nil || s.Treasury == nil {
		return nil, ErrNotFound
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
		if caller != vault.Owner {
			return ErrUnauthorized
		}
		if !vault.EscrowedAmount.IsPositive() {
			return ErrNothingToDisburse
		}
		trigger, err := s.Repo.GetTriggerByVaultIDTx(ctx, tx, vaultID)
		if err != nil {
			return err
		}
		if trigger != nil {
			return validationErr("vault", "still has a pending trigger")
		}
		amount := vault.EscrowedAmount
		if err := s.Treasury.SendTx(ctx, tx, treasury.Payment{
			VaultID:   vault.ID,
			Recipient: vault.Owner,
			Denom:     vault.TargetDenom(),
			Amount:    amount,
			Reason:    models.PayoutReasonEscrowRelease,
		}); err != nil {
			return err
		}
		if err := s.Repo.AppendEventTx(ctx, tx, models.NewEvent(vault.ID, now, models.EventEscrowDisbursed, models.EscrowDisbursedPayload{
			Denom:           vault.TargetDenom(),
			AmountDisbursed: amount,
			PerformanceFee:  decimal.Zero,
		})); err != nil {
			return err
		}
		vault.EscrowedAmount = decimal.Zero
		return s.Repo.SaveVaultTx(ctx, tx, vault)
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetVaultByID(ctx, vaultID)
}

// GetPerformance previews the fee and factor without disbursing.
func (s *EscrowService) GetPerformance(ctx context.Context, vaultID uint64) (*VaultPerformance, error) {
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
	return &VaultPerformance{
		Fee:    s.Fees.PerformanceFee(vault.ReceivedAmount, vault.StandardReceivedAmount, vault.EscrowedAmount),
		Factor: fees.PerformanceFactor(vault.ReceivedAmount, vault.StandardReceivedAmount),
	}, nil
}

// ListDisburseEscrowTasks returns vaults whose escrow is releasable now.
func (s *EscrowService) ListDisburseEscrowTasks(ctx context.Context, limit int) ([]models.Vault, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	candidates, err := s.Repo.ListDisburseEscrowCandidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	tasks := make([]models.Vault, 0, len(candidates))
	for _, vault := range candidates {
		if !vault.EscrowedAmount.IsPositive() {
			continue
		}
		if !vault.IsEmpty() || (vault.HasPerformanceAssessment() && !vault.StandardRunFinished()) {
			continue
		}
		tasks = append(tasks, vault)
	}
	return tasks, nil
}
