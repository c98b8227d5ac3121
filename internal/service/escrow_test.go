package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"calc/internal/fees"
	"calc/internal/models"
)

func newTestEscrowService(repo *stubRepo) (*EscrowService, *stubTreasury) {
	tr := &stubTreasury{repo: repo}
	params := testParams()
	svc := &EscrowService{
		Repo:     repo,
		Treasury: tr,
		Fees: fees.Calculator{
			SwapFeePercent:     params.SwapFeePercent,
			PerformanceFeeRate: params.PerformanceFeeRate,
		},
		Params: params,
		Now:    func() time.Time { return testTime },
	}
	return svc, tr
}

// seedFinishedVault builds a vault whose adjusted and standard runs are both
// complete, with the given received amounts and escrow left to settle.
func seedFinishedVault(repo *stubRepo, received, standardReceived, escrowed string) *models.Vault {
	vault := seedVault(repo, "200000", "100000")
	vault.Status = models.VaultStatusInactive
	vault.Balance = dec("0")
	vault.SwappedAmount = dec("200000")
	vault.AdjustmentStrategy = models.AdjustmentStrategyRiskWeighted
	vault.ModelID = 30
	vault.PerformanceStrategy = models.PerformanceStrategyCompareDCA
	vault.EscrowLevel = dec("0.05")
	vault.ReceivedAmount = dec(received)
	vault.StandardSwappedAmount = dec("200000")
	vault.StandardReceivedAmount = dec(standardReceived)
	vault.EscrowedAmount = dec(escrowed)
	repo.vaults[vault.ID] = *vault
	return vault
}

func TestDisburseEscrow_Outperformance(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "110000", "100000", "5500")

	perf, err := svc.DisburseEscrow(context.Background(), vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !perf.Fee.Equal(dec("2000")) {
		t.Fatalf("fee=%s want 2000", perf.Fee)
	}
	if !perf.Factor.Equal(dec("1.1")) {
		t.Fatalf("factor=%s want 1.1", perf.Factor)
	}

	feePayouts := repo.payoutsByReason(vault.ID, models.PayoutReasonPerformanceFee)
	if len(feePayouts) != 1 || feePayouts[0].Recipient != "fee-collector" || !feePayouts[0].Amount.Equal(dec("2000")) {
		t.Fatalf("fee payouts=%v", feePayouts)
	}
	release := repo.payoutsByReason(vault.ID, models.PayoutReasonEscrowRelease)
	if len(release) != 1 || release[0].Recipient != "owner" || !release[0].Amount.Equal(dec("3500")) {
		t.Fatalf("release payouts=%v", release)
	}
	if got := repo.vaults[vault.ID]; !got.EscrowedAmount.IsZero() {
		t.Fatalf("escrowed=%s want 0", got.EscrowedAmount)
	}
	types := repo.eventTypes(vault.ID)
	if len(types) != 1 || types[0] != models.EventEscrowDisbursed {
		t.Fatalf("events=%v", types)
	}
}

func TestDisburseEscrow_FeeCappedAtEscrow(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "110000", "100000", "1500")

	perf, err := svc.DisburseEscrow(context.Background(), vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !perf.Fee.Equal(dec("1500")) {
		t.Fatalf("fee=%s want 1500", perf.Fee)
	}
	if release := repo.payoutsByReason(vault.ID, models.PayoutReasonEscrowRelease); len(release) != 0 {
		t.Fatalf("release payouts=%v want none", release)
	}
}

func TestDisburseEscrow_UnderperformanceReturnsAll(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "90000", "100000", "4500")

	perf, err := svc.DisburseEscrow(context.Background(), vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !perf.Fee.IsZero() {
		t.Fatalf("fee=%s want 0", perf.Fee)
	}
	release := repo.payoutsByReason(vault.ID, models.PayoutReasonEscrowRelease)
	if len(release) != 1 || !release[0].Amount.Equal(dec("4500")) {
		t.Fatalf("release payouts=%v", release)
	}
	if fee := repo.payoutsByReason(vault.ID, models.PayoutReasonPerformanceFee); len(fee) != 0 {
		t.Fatalf("fee payouts=%v want none", fee)
	}
}

func TestDisburseEscrow_Preconditions(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)

	if _, err := svc.DisburseEscrow(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown vault err=%v want ErrNotFound", err)
	}

	noEscrow := seedFinishedVault(repo, "110000", "100000", "0")
	if _, err := svc.DisburseEscrow(context.Background(), noEscrow.ID); !errors.Is(err, ErrNothingToDisburse) {
		t.Fatalf("empty escrow err=%v want ErrNothingToDisburse", err)
	}

	running := seedFinishedVault(repo, "110000", "100000", "5500")
	running.Balance = dec("50000")
	repo.vaults[running.ID] = *running
	if _, err := svc.DisburseEscrow(context.Background(), running.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("running vault err=%v want ErrNotReady", err)
	}

	shadowPending := seedFinishedVault(repo, "110000", "100000", "5500")
	shadowPending.StandardSwappedAmount = dec("100000")
	repo.vaults[shadowPending.ID] = *shadowPending
	if _, err := svc.DisburseEscrow(context.Background(), shadowPending.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("pending shadow run err=%v want ErrNotReady", err)
	}
}

func TestDisburseEscrow_FactorOneWhenStandardZero(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "110000", "0", "5500")

	perf, err := svc.DisburseEscrow(context.Background(), vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !perf.Factor.Equal(dec("1")) {
		t.Fatalf("factor=%s want 1", perf.Factor)
	}
	if !perf.Fee.IsZero() {
		t.Fatalf("fee=%s want 0", perf.Fee)
	}
}

func TestClaimEscrowedFunds(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "110000", "100000", "5500")

	if _, err := svc.ClaimEscrowedFunds(context.Background(), "intruder", vault.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}

	due := testTime.Add(time.Hour)
	repo.triggers[vault.ID] = models.Trigger{VaultID: vault.ID, Kind: models.TriggerKindTime, TargetTime: &due}
	var vErr *ValidationError
	if _, err := svc.ClaimEscrowedFunds(context.Background(), "owner", vault.ID); !errors.As(err, &vErr) {
		t.Fatalf("pending trigger err=%v want ValidationError", err)
	}

	delete(repo.triggers, vault.ID)
	got, err := svc.ClaimEscrowedFunds(context.Background(), "owner", vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !got.EscrowedAmount.IsZero() {
		t.Fatalf("escrowed=%s want 0", got.EscrowedAmount)
	}
	release := repo.payoutsByReason(vault.ID, models.PayoutReasonEscrowRelease)
	if len(release) != 1 || !release[0].Amount.Equal(dec("5500")) || release[0].Recipient != "owner" {
		t.Fatalf("release payouts=%v", release)
	}

	if _, err := svc.ClaimEscrowedFunds(context.Background(), "owner", vault.ID); !errors.Is(err, ErrNothingToDisburse) {
		t.Fatalf("second claim err=%v want ErrNothingToDisburse", err)
	}
}

func TestGetPerformancePreviewDoesNotMutate(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestEscrowService(repo)
	vault := seedFinishedVault(repo, "110000", "100000", "5500")

	perf, err := svc.GetPerformance(context.Background(), vault.ID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !perf.Fee.Equal(dec("2000")) || !perf.Factor.Equal(dec("1.1")) {
		t.Fatalf("perf=%+v", perf)
	}
	if got := repo.vaults[vault.ID]; !got.EscrowedAmount.Equal(dec("5500")) || len(repo.payouts) != 0 {
		t.Fatalf("preview mutated state")
	}
}
