package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"calc/internal/fees"
	"calc/internal/models"
	"calc/internal/venue"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testParams() EngineParams {
	return EngineParams{
		SwapFeePercent:     dec("0.0015"),
		PerformanceFeeRate: dec("0.2"),
		DefaultEscrowLevel: dec("0.05"),
		MinimumSwapAmount:  dec("50000"),
		FeeCollector:       "fee-collector",
		MaxDestinations:    10,
	}
}

func newTestExecutor(repo *stubRepo, vn *stubVenue) (*TriggerExecutor, *stubTreasury) {
	tr := &stubTreasury{repo: repo}
	params := testParams()
	exec := &TriggerExecutor{
		Repo:     repo,
		Venue:    vn,
		Treasury: tr,
		Fees: fees.Calculator{
			SwapFeePercent:     params.SwapFeePercent,
			PerformanceFeeRate: params.PerformanceFeeRate,
		},
		Params: params,
		Now:    func() time.Time { return testTime },
	}
	return exec, tr
}

func seedVault(repo *stubRepo, balance, swapAmount string) *models.Vault {
	vault := &models.Vault{
		Owner:           "owner",
		Status:          models.VaultStatusScheduled,
		PairAddress:     "pair-1",
		BaseDenom:       "ukuji",
		QuoteDenom:      "uusk",
		SwapDenom:       "uusk",
		Balance:         dec(balance),
		DepositedAmount: dec(balance),
		SwapAmount:      dec(swapAmount),
		TimeInterval:    "hourly",
		IntervalSeconds: 3600,
		Destinations:    datatypes.JSON(`[{"address":"owner","allocation":"1"}]`),
	}
	_ = repo.InsertVaultTx(context.Background(), nil, vault)
	return vault
}

func seedDueTrigger(repo *stubRepo, vaultID uint64) {
	due := testTime
	repo.triggers[vaultID] = models.Trigger{
		VaultID:    vaultID,
		Kind:       models.TriggerKindTime,
		TargetTime: &due,
	}
}

func TestExecuteTrigger_FirstCycle(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}

	got := repo.vaults[vault.ID]
	if !got.Balance.Equal(dec("900000")) {
		t.Fatalf("balance=%s want 900000", got.Balance)
	}
	if !got.SwappedAmount.Equal(dec("100000")) {
		t.Fatalf("swapped=%s want 100000", got.SwappedAmount)
	}
	if !got.ReceivedAmount.Equal(dec("99850")) {
		t.Fatalf("received=%s want 99850", got.ReceivedAmount)
	}
	if got.Status != models.VaultStatusActive {
		t.Fatalf("status=%s want active", got.Status)
	}
	if !got.Balance.Add(got.SwappedAmount).Equal(got.DepositedAmount) {
		t.Fatalf("conservation broken: %s + %s != %s", got.Balance, got.SwappedAmount, got.DepositedAmount)
	}

	trigger, ok := repo.triggers[vault.ID]
	if !ok || trigger.TargetTime == nil {
		t.Fatalf("expected rescheduled trigger")
	}
	if want := testTime.Add(time.Hour); !trigger.TargetTime.Equal(want) {
		t.Fatalf("next trigger=%v want %v", trigger.TargetTime, want)
	}

	types := repo.eventTypes(vault.ID)
	if len(types) != 2 || types[0] != models.EventExecutionTriggered || types[1] != models.EventExecutionCompleted {
		t.Fatalf("events=%v", types)
	}

	feePayouts := repo.payoutsByReason(vault.ID, models.PayoutReasonSwapFee)
	if len(feePayouts) != 1 || !feePayouts[0].Amount.Equal(dec("150")) {
		t.Fatalf("fee payouts=%v", feePayouts)
	}
	disb := repo.payoutsByReason(vault.ID, models.PayoutReasonDisbursement)
	if len(disb) != 1 || !disb[0].Amount.Equal(dec("99850")) || disb[0].Recipient != "owner" {
		t.Fatalf("disbursement payouts=%v", disb)
	}
	if disb[0].Denom != "ukuji" {
		t.Fatalf("disbursement denom=%s want ukuji", disb[0].Denom)
	}
}

func TestExecuteTrigger_NotReady(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	future := testTime.Add(time.Hour)
	repo.triggers[vault.ID] = models.Trigger{
		VaultID:    vault.ID,
		Kind:       models.TriggerKindTime,
		TargetTime: &future,
	}

	err := exec.ExecuteTrigger(context.Background(), vault.ID)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err=%v want ErrNotReady", err)
	}
	got := repo.vaults[vault.ID]
	if !got.Balance.Equal(dec("1000000")) || len(repo.events) != 0 {
		t.Fatalf("state mutated on NotReady")
	}
}

func TestExecuteTrigger_NoTrigger(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestExecuteTrigger_IdempotentConsumption(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	// Balance covers exactly one execution; no shadow run pending.
	vault := seedVault(repo, "100000", "100000")
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("first call err=%v", err)
	}
	err := exec.ExecuteTrigger(context.Background(), vault.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second call err=%v want ErrNotFound", err)
	}
	if got := repo.vaults[vault.ID]; got.Status != models.VaultStatusInactive {
		t.Fatalf("status=%s want inactive", got.Status)
	}
	if vn.swapCalls != 1 {
		t.Fatalf("swapCalls=%d want 1", vn.swapCalls)
	}
}

func TestExecuteTrigger_RescheduledTriggerNotReadyAgain(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("first call err=%v", err)
	}
	if err := exec.ExecuteTrigger(context.Background(), vault.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second call err=%v want ErrNotReady", err)
	}
}

func TestExecuteTrigger_PriceCeilingSkip(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	minReceive := dec("200000")
	vault.MinimumReceiveAmount = &minReceive
	repo.vaults[vault.ID] = *vault
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	got := repo.vaults[vault.ID]
	if !got.Balance.Equal(dec("1000000")) || !got.SwappedAmount.IsZero() || !got.ReceivedAmount.IsZero() {
		t.Fatalf("guard skip mutated balances: %+v", got)
	}

	types := repo.eventTypes(vault.ID)
	if len(types) != 2 || types[1] != models.EventExecutionSkipped {
		t.Fatalf("events=%v", types)
	}

	trigger, ok := repo.triggers[vault.ID]
	if !ok || trigger.TargetTime == nil || !trigger.TargetTime.Equal(testTime.Add(time.Hour)) {
		t.Fatalf("expected trigger one interval later, got %+v", trigger)
	}
	if len(repo.payouts) != 0 {
		t.Fatalf("payouts on skip: %v", repo.payouts)
	}
}

func TestExecuteTrigger_SlippageSkip(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.swapErr = venue.ErrSlippageExceeded
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	got := repo.vaults[vault.ID]
	if !got.Balance.Equal(dec("1000000")) {
		t.Fatalf("balance=%s want unchanged", got.Balance)
	}
	types := repo.eventTypes(vault.ID)
	if types[len(types)-1] != models.EventExecutionSkipped {
		t.Fatalf("events=%v", types)
	}
	if _, ok := repo.triggers[vault.ID]; !ok {
		t.Fatalf("expected rescheduled trigger")
	}
}

func TestExecuteTrigger_VenueFailureOnTimeTriggerSkips(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.swapErr = errors.New("connection refused")
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := repo.vaults[vault.ID]; !got.Balance.Equal(dec("1000000")) {
		t.Fatalf("balance=%s want unchanged", got.Balance)
	}
}

func TestExecuteTrigger_SlippageToleranceReachesVenue(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	// The venue fills 50% below the quoted rate; the vault only accepts a
	// single basis point of deviation.
	vn.fillRate = dec("0.5")
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	tolerance := dec("0.0001")
	vault.SlippageTolerance = &tolerance
	repo.vaults[vault.ID] = *vault
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	if vn.lastSwap.SlippageTolerance == nil || !vn.lastSwap.SlippageTolerance.Equal(tolerance) {
		t.Fatalf("swap request tolerance=%v want %s", vn.lastSwap.SlippageTolerance, tolerance)
	}
	got := repo.vaults[vault.ID]
	if !got.Balance.Equal(dec("1000000")) || !got.SwappedAmount.IsZero() || !got.ReceivedAmount.IsZero() {
		t.Fatalf("bad fill committed: %+v", got)
	}
	types := repo.eventTypes(vault.ID)
	if types[len(types)-1] != models.EventExecutionSkipped {
		t.Fatalf("events=%v", types)
	}
	if len(repo.payouts) != 0 {
		t.Fatalf("payouts on skip: %v", repo.payouts)
	}
}

func TestExecuteTrigger_PriceTriggerUnfilled(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.orderFilled = false
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	repo.triggers[vault.ID] = models.Trigger{
		VaultID: vault.ID,
		Kind:    models.TriggerKindPrice,
		OrderID: "order-1",
	}

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err=%v want ErrNotReady", err)
	}
}

func TestExecuteTrigger_PriceTriggerFilledSwitchesToTimeCadence(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.orderFilled = true
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "1000000", "100000")
	repo.triggers[vault.ID] = models.Trigger{
		VaultID: vault.ID,
		Kind:    models.TriggerKindPrice,
		OrderID: "order-1",
	}

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}
	trigger, ok := repo.triggers[vault.ID]
	if !ok || trigger.Kind != models.TriggerKindTime {
		t.Fatalf("expected time trigger, got %+v", trigger)
	}
	if trigger.TargetTime == nil || !trigger.TargetTime.Equal(testTime.Add(time.Hour)) {
		t.Fatalf("next trigger=%v want %v", trigger.TargetTime, testTime.Add(time.Hour))
	}
}

func TestExecuteTrigger_AdjustedRunEmptiesShadowRetainsTrigger(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "200000", "100000")
	vault.AdjustmentStrategy = models.AdjustmentStrategyRiskWeighted
	vault.ModelID = 30
	vault.PerformanceStrategy = models.PerformanceStrategyCompareDCA
	vault.EscrowLevel = dec("0.05")
	repo.vaults[vault.ID] = *vault
	repo.adjustments[adjustmentKey{models.PositionTypeEnter, 30}] = models.SwapAdjustment{
		PositionType: models.PositionTypeEnter,
		ModelID:      30,
		Multiplier:   dec("2"),
	}
	seedDueTrigger(repo, vault.ID)

	// Cycle 1: the doubled swap amount drains the whole balance while the
	// shadow run only advances by the nominal amount.
	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("cycle 1 err=%v", err)
	}
	got := repo.vaults[vault.ID]
	if !got.Balance.IsZero() || got.Status != models.VaultStatusInactive {
		t.Fatalf("balance=%s status=%s want 0/inactive", got.Balance, got.Status)
	}
	if !got.StandardSwappedAmount.Equal(dec("100000")) {
		t.Fatalf("standard swapped=%s want 100000", got.StandardSwappedAmount)
	}
	// Adjustment strategy active: no swap fee, escrow withheld instead.
	if !got.ReceivedAmount.Equal(dec("200000")) {
		t.Fatalf("received=%s want 200000", got.ReceivedAmount)
	}
	if !got.EscrowedAmount.Equal(dec("10000")) {
		t.Fatalf("escrowed=%s want 10000", got.EscrowedAmount)
	}
	if _, ok := repo.triggers[vault.ID]; !ok {
		t.Fatalf("trigger must be retained while the shadow run is pending")
	}

	// Cycle 2: nothing left to swap; the shadow run finishes and the
	// trigger is cleared for good.
	due := testTime
	repo.triggers[vault.ID] = models.Trigger{VaultID: vault.ID, Kind: models.TriggerKindTime, TargetTime: &due}
	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("cycle 2 err=%v", err)
	}
	got = repo.vaults[vault.ID]
	if !got.StandardSwappedAmount.Equal(dec("200000")) {
		t.Fatalf("standard swapped=%s want 200000", got.StandardSwappedAmount)
	}
	if !got.StandardReceivedAmount.Equal(dec("200000")) {
		t.Fatalf("standard received=%s want 200000", got.StandardReceivedAmount)
	}
	if _, ok := repo.triggers[vault.ID]; ok {
		t.Fatalf("trigger must be cleared once both runs finished")
	}

	types := repo.eventTypes(vault.ID)
	simulated := 0
	for _, typ := range types {
		if typ == models.EventSimulatedExecutionCompleted {
			simulated++
		}
	}
	if simulated != 2 {
		t.Fatalf("simulated executions=%d want 2 (events=%v)", simulated, types)
	}
}

func TestExecuteTrigger_CallbackFallbackToOwner(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, tr := newTestExecutor(repo, vn)
	tr.invokeErr = errors.New("downstream contract failed")
	vault := seedVault(repo, "1000000", "100000")
	vault.Destinations = datatypes.JSON(`[{"address":"other","allocation":"0.5","callback":"http://callback"},{"address":"owner","allocation":"0.5"}]`)
	repo.vaults[vault.ID] = *vault
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); err != nil {
		t.Fatalf("err=%v", err)
	}

	fallback := repo.payoutsByReason(vault.ID, models.PayoutReasonCallbackFallback)
	if len(fallback) != 1 || fallback[0].Recipient != "owner" || !fallback[0].Amount.Equal(dec("49925")) {
		t.Fatalf("fallback payouts=%v", fallback)
	}
	direct := repo.payoutsByReason(vault.ID, models.PayoutReasonDisbursement)
	if len(direct) != 1 || direct[0].Recipient != "owner" {
		t.Fatalf("direct payouts=%v", direct)
	}

	types := repo.eventTypes(vault.ID)
	foundFailure := false
	for _, typ := range types {
		if typ == models.EventAutomationFailed {
			foundFailure = true
		}
	}
	if !foundFailure {
		t.Fatalf("expected automation_failed event, got %v", types)
	}
}

func TestExecuteTrigger_CancelledVault(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	exec, _ := newTestExecutor(repo, vn)
	vault := seedVault(repo, "0", "100000")
	vault.Status = models.VaultStatusCancelled
	repo.vaults[vault.ID] = *vault
	seedDueTrigger(repo, vault.ID)

	if err := exec.ExecuteTrigger(context.Background(), vault.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}
