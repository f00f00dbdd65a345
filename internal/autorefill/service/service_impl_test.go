package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	auditservice "github.com/veracify/veracify/internal/audit/service"
	"github.com/veracify/veracify/internal/autorefill/domain"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	ledgerservice "github.com/veracify/veracify/internal/ledger/service"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	planservice "github.com/veracify/veracify/internal/plan/service"
	"github.com/veracify/veracify/internal/testdb"
)

type settingsFixture struct {
	svc     domain.Service
	account *ledgerdomain.CreditAccount
	db      *gorm.DB
}

func newSettingsFixture(t *testing.T) *settingsFixture {
	t.Helper()
	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Outbox: outbox,
	})
	plans := planservice.NewService(planservice.Params{DB: db, Log: zap.NewNop()})
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node})

	if err := db.Create(&plandomain.CreditPack{ID: "pack_refill", Name: "Refill Pack", Credits: 200}).Error; err != nil {
		t.Fatalf("seed pack: %v", err)
	}

	account, err := ledger.EnsureAccount(context.Background(), node.Generate(), "starter", 500, time.Now().UTC().AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Outbox: outbox,
		Ledger: ledger,
		Plans:  plans,
		Audit:  audit,
	})
	return &settingsFixture{svc: svc, account: account, db: db}
}

func TestUpdateSettingsValidation(t *testing.T) {
	f := newSettingsFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input domain.UpdateInput
		want  error
	}{
		{"zero threshold", domain.UpdateInput{Enabled: true, ThresholdCredits: 0, RefillPackID: "pack_refill", MaxRefillsPerMonth: 3}, domain.ErrInvalidThreshold},
		{"zero cap", domain.UpdateInput{Enabled: true, ThresholdCredits: 100, RefillPackID: "pack_refill", MaxRefillsPerMonth: 0}, domain.ErrInvalidCap},
		{"missing pack", domain.UpdateInput{Enabled: true, ThresholdCredits: 100, MaxRefillsPerMonth: 3}, domain.ErrMissingPack},
	}
	for _, tc := range cases {
		if _, err := f.svc.UpdateSettings(ctx, f.account.ID, tc.input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestUpdateSettingsWritesAuditLog(t *testing.T) {
	f := newSettingsFixture(t)
	ctx := context.Background()

	settings, err := f.svc.UpdateSettings(ctx, f.account.ID, domain.UpdateInput{
		Enabled:            true,
		ThresholdCredits:   100,
		RefillPackID:       "pack_refill",
		MaxRefillsPerMonth: 3,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if !settings.Enabled || settings.ThresholdCredits != 100 {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	var n int64
	err = f.db.Table("audit_logs").
		Where("action = ? AND target_id = ?", "auto_refill.settings_updated", f.account.ID.String()).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count audit logs: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one audit entry for the update, got %d", n)
	}
}

func TestDisableKeepsMonthlyCounter(t *testing.T) {
	f := newSettingsFixture(t)
	ctx := context.Background()

	if _, err := f.svc.UpdateSettings(ctx, f.account.ID, domain.UpdateInput{
		Enabled:            true,
		ThresholdCredits:   100,
		RefillPackID:       "pack_refill",
		MaxRefillsPerMonth: 3,
	}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := f.db.Exec(`UPDATE auto_refill_settings SET refills_this_month = 2 WHERE account_id = ?`, f.account.ID).Error; err != nil {
		t.Fatalf("bump counter: %v", err)
	}

	settings, err := f.svc.UpdateSettings(ctx, f.account.ID, domain.UpdateInput{Enabled: false})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if settings.RefillsThisMonth != 2 {
		t.Fatalf("policy update must not reset the monthly counter, got %d", settings.RefillsThisMonth)
	}
}
