package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	autorefillservice "github.com/veracify/veracify/internal/autorefill/service"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerservice "github.com/veracify/veracify/internal/ledger/service"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	planservice "github.com/veracify/veracify/internal/plan/service"
	"github.com/veracify/veracify/internal/tenant/domain"
	"github.com/veracify/veracify/internal/testdb"
)

func newTestTenantService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)
	sysClock := clock.SystemClock{}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: sysClock, Outbox: outbox,
	})
	plans := planservice.NewService(planservice.Params{DB: db, Log: zap.NewNop()})
	refills := autorefillservice.NewService(autorefillservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: sysClock, Outbox: outbox, Ledger: ledger, Plans: plans,
	})

	seed := []any{
		&plandomain.Plan{ID: "free", Name: "Free", MonthlyAllowance: 50},
		&plandomain.Plan{ID: "starter", Name: "Starter", MonthlyAllowance: 500},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed plans: %v", err)
		}
	}

	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: sysClock, Outbox: outbox,
		Ledger: ledger, Plans: plans, Refills: refills,
	})
	return svc, db
}

func TestProvisionCreatesBillingScaffolding(t *testing.T) {
	svc, db := newTestTenantService(t)
	ctx := context.Background()

	result, err := svc.Provision(ctx, domain.ProvisionInput{
		Name:           "Acme Media",
		Slug:           "acme-media",
		PortalPassword: "super secret pass",
		PlanID:         "starter",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !strings.HasPrefix(result.APIKey, "vk_") {
		t.Fatalf("unexpected api key format: %s", result.APIKey)
	}

	var accountCount, settingsCount int64
	if err := db.Raw(`SELECT COUNT(*) FROM credit_accounts WHERE tenant_id = ?`, result.Tenant.ID).Scan(&accountCount).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if err := db.Raw(`
		SELECT COUNT(*) FROM auto_refill_settings
		WHERE account_id = (SELECT id FROM credit_accounts WHERE tenant_id = ?)
	`, result.Tenant.ID).Scan(&settingsCount).Error; err != nil {
		t.Fatalf("count settings: %v", err)
	}
	if accountCount != 1 || settingsCount != 1 {
		t.Fatalf("expected account and refill settings, got %d/%d", accountCount, settingsCount)
	}
}

func TestProvisionRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newTestTenantService(t)
	ctx := context.Background()

	input := domain.ProvisionInput{Name: "First", Slug: "shared", PortalPassword: "password123"}
	if _, err := svc.Provision(ctx, input); err != nil {
		t.Fatalf("provision: %v", err)
	}
	input.Name = "Second"
	if _, err := svc.Provision(ctx, input); !errors.Is(err, domain.ErrSlugTaken) {
		t.Fatalf("expected tenant_slug_taken, got %v", err)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	svc, _ := newTestTenantService(t)
	ctx := context.Background()

	result, err := svc.Provision(ctx, domain.ProvisionInput{
		Name: "Acme", Slug: "acme", PortalPassword: "password123",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	key, err := svc.AuthenticateAPIKey(ctx, result.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if key.TenantID != result.Tenant.ID {
		t.Fatalf("key bound to wrong tenant: %s", key.TenantID)
	}

	if _, err := svc.AuthenticateAPIKey(ctx, "vk_bogus"); !errors.Is(err, domain.ErrAPIKeyInvalid) {
		t.Fatalf("expected api_key_invalid, got %v", err)
	}

	if err := svc.RevokeAPIKey(ctx, result.Tenant.ID, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.AuthenticateAPIKey(ctx, result.APIKey); !errors.Is(err, domain.ErrAPIKeyInvalid) {
		t.Fatalf("revoked key still authenticates: %v", err)
	}
}

func TestVerifyPortalPassword(t *testing.T) {
	svc, _ := newTestTenantService(t)
	ctx := context.Background()

	if _, err := svc.Provision(ctx, domain.ProvisionInput{
		Name: "Acme", Slug: "acme", PortalPassword: "password123",
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if _, err := svc.VerifyPortalPassword(ctx, "acme", "password123"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := svc.VerifyPortalPassword(ctx, "acme", "wrong"); !errors.Is(err, domain.ErrInvalidPassword) {
		t.Fatalf("expected invalid_portal_password, got %v", err)
	}
}
