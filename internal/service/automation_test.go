package service

import (
	"context"
	"testing"
	"time"

	"calc/internal/config"
	"calc/internal/models"
)

func newTestAutomation(repo *stubRepo, vn *stubVenue) *AutomationService {
	exec, _ := newTestExecutor(repo, vn)
	escrow, _ := newTestEscrowService(repo)
	return &AutomationService{
		Repo:     repo,
		Venue:    vn,
		Executor: exec,
		Escrow:   escrow,
		Config:   config.AutomationConfig{SweepLimit: 100},
	}
}

func TestSweepOnce_FiresDueTriggersOnly(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	auto := newTestAutomation(repo, vn)

	dueVault := seedVault(repo, "1000000", "100000")
	seedDueTrigger(repo, dueVault.ID)

	laterVault := seedVault(repo, "1000000", "100000")
	future := testTime.Add(time.Hour)
	repo.triggers[laterVault.ID] = models.Trigger{
		VaultID:    laterVault.ID,
		Kind:       models.TriggerKindTime,
		TargetTime: &future,
	}

	if err := auto.SweepOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if vn.swapCalls != 1 {
		t.Fatalf("swapCalls=%d want 1", vn.swapCalls)
	}
	if got := repo.vaults[dueVault.ID]; !got.Balance.Equal(dec("900000")) {
		t.Fatalf("due vault balance=%s want 900000", got.Balance)
	}
	if got := repo.vaults[laterVault.ID]; !got.Balance.Equal(dec("1000000")) {
		t.Fatalf("future vault balance=%s want untouched", got.Balance)
	}
}

func TestSweepOnce_FiresFilledPriceTriggers(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.orderFilled = true
	auto := newTestAutomation(repo, vn)

	vault := seedVault(repo, "1000000", "100000")
	repo.triggers[vault.ID] = models.Trigger{
		VaultID: vault.ID,
		Kind:    models.TriggerKindPrice,
		OrderID: "order-1",
	}

	if err := auto.SweepOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := repo.vaults[vault.ID]; !got.Balance.Equal(dec("900000")) {
		t.Fatalf("balance=%s want 900000", got.Balance)
	}
	trigger := repo.triggers[vault.ID]
	if trigger.Kind != models.TriggerKindTime {
		t.Fatalf("trigger=%+v want time cadence after fill", trigger)
	}
}

func TestSweepOnce_LeavesUnfilledPriceTriggers(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.orderFilled = false
	auto := newTestAutomation(repo, vn)

	vault := seedVault(repo, "1000000", "100000")
	repo.triggers[vault.ID] = models.Trigger{
		VaultID: vault.ID,
		Kind:    models.TriggerKindPrice,
		OrderID: "order-1",
	}

	if err := auto.SweepOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if vn.swapCalls != 0 {
		t.Fatalf("swapCalls=%d want 0", vn.swapCalls)
	}
	if got := repo.triggers[vault.ID]; got.OrderID != "order-1" {
		t.Fatalf("trigger=%+v want unchanged", got)
	}
}

func TestOnOrderFill(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	vn.orderFilled = true
	auto := newTestAutomation(repo, vn)

	vault := seedVault(repo, "1000000", "100000")
	repo.triggers[vault.ID] = models.Trigger{
		VaultID: vault.ID,
		Kind:    models.TriggerKindPrice,
		OrderID: "order-7",
	}

	auto.OnOrderFill(context.Background(), "order-unknown")
	if vn.swapCalls != 0 {
		t.Fatalf("unknown order fired a swap")
	}

	auto.OnOrderFill(context.Background(), "order-7")
	if vn.swapCalls != 1 {
		t.Fatalf("swapCalls=%d want 1", vn.swapCalls)
	}

	ids, err := auto.OpenOrderIDs(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ids=%v want none after fill", ids)
	}
}

func TestSweepEscrow(t *testing.T) {
	repo := newStubRepo()
	vn := newStubVenue()
	auto := newTestAutomation(repo, vn)

	vault := seedFinishedVault(repo, "110000", "100000", "5500")

	if err := auto.SweepEscrow(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := repo.vaults[vault.ID]; !got.EscrowedAmount.IsZero() {
		t.Fatalf("escrowed=%s want 0", got.EscrowedAmount)
	}
	release := repo.payoutsByReason(vault.ID, models.PayoutReasonEscrowRelease)
	if len(release) != 1 || !release[0].Amount.Equal(dec("3500")) {
		t.Fatalf("release payouts=%v", release)
	}
}
