package billingcycle

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerservice "github.com/veracify/veracify/internal/ledger/service"
	"github.com/veracify/veracify/internal/testdb"
)

func TestRunOnceRollsDueAccounts(t *testing.T) {
	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.FixedClock{At: now}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Outbox: outbox,
	})
	ctx := context.Background()

	// Due: cycle ended two days ago. Not due: resets next week.
	dueAccount, err := ledger.EnsureAccount(ctx, node.Generate(), "starter", 500, now.AddDate(0, 0, -2))
	if err != nil {
		t.Fatalf("ensure due account: %v", err)
	}
	freshAccount, err := ledger.EnsureAccount(ctx, node.Generate(), "starter", 500, now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("ensure fresh account: %v", err)
	}

	// Consume some credits so the reset is observable.
	if _, err := ledger.Debit(ctx, dueAccount.ID, 200, "content_generation"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	rollover := New(Config{}, db, zap.NewNop(), clk, outbox, ledger)
	rolled, err := rollover.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rolled != 1 {
		t.Fatalf("expected 1 rollover, got %d", rolled)
	}

	snap, err := ledger.GetBalance(ctx, dueAccount.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if snap.UsedThisMonth != 0 {
		t.Fatalf("used_this_month not reset: %d", snap.UsedThisMonth)
	}
	if snap.Balance != 800 {
		t.Fatalf("expected 300 remaining + 500 allowance, got %d", snap.Balance)
	}

	refreshed, err := ledger.AccountByID(ctx, dueAccount.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if !refreshed.CycleResetsAt.After(now) {
		t.Fatalf("cycle_resets_at not advanced: %v", refreshed.CycleResetsAt)
	}

	untouched, err := ledger.GetBalance(ctx, freshAccount.ID)
	if err != nil {
		t.Fatalf("get fresh balance: %v", err)
	}
	if untouched.Balance != 500 {
		t.Fatalf("fresh account changed: %d", untouched.Balance)
	}
}

func TestRunOnceIsIdempotentWithinCycle(t *testing.T) {
	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.FixedClock{At: now}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Outbox: outbox,
	})
	ctx := context.Background()

	if _, err := ledger.EnsureAccount(ctx, node.Generate(), "starter", 100, now.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	rollover := New(Config{}, db, zap.NewNop(), clk, outbox, ledger)
	if rolled, err := rollover.RunOnce(ctx); err != nil || rolled != 1 {
		t.Fatalf("first run: rolled=%d err=%v", rolled, err)
	}
	if rolled, err := rollover.RunOnce(ctx); err != nil || rolled != 0 {
		t.Fatalf("second run should be a no-op: rolled=%d err=%v", rolled, err)
	}
}

func TestRollAdvancesPastMultipleMissedMonths(t *testing.T) {
	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.FixedClock{At: now}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Outbox: outbox,
	})
	ctx := context.Background()

	stale, err := ledger.EnsureAccount(ctx, node.Generate(), "starter", 100, now.AddDate(0, -3, 0))
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	rollover := New(Config{}, db, zap.NewNop(), clk, outbox, ledger)
	if rolled, err := rollover.RunOnce(ctx); err != nil || rolled != 1 {
		t.Fatalf("run once: rolled=%d err=%v", rolled, err)
	}

	refreshed, err := ledger.AccountByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if !refreshed.CycleResetsAt.After(now) {
		t.Fatalf("cycle_resets_at must land in the future, got %v", refreshed.CycleResetsAt)
	}
	// A single missed window grants a single allowance, not one per month.
	snap, _ := ledger.GetBalance(ctx, stale.ID)
	if snap.Balance != 200 {
		t.Fatalf("expected 100 + one 100 allowance, got %d", snap.Balance)
	}
}
