// Package seed bootstraps the catalog and an optional demo tenant.
package seed

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/config"
	tenantdomain "github.com/veracify/veracify/internal/tenant/domain"
)

const (
	demoTenantName     = "Demo Workspace"
	demoTenantSlug     = "demo"
	demoPortalPassword = "veracify-demo"
)

type catalogRow struct {
	query string
	args  []any
}

// catalog is the default plan and pack inventory. Amounts are cents.
var catalog = []catalogRow{
	{`INSERT INTO plans (id, name, monthly_allowance) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"free", "Free", int64(50)}},
	{`INSERT INTO plans (id, name, monthly_allowance) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"starter", "Starter", int64(500)}},
	{`INSERT INTO plans (id, name, monthly_allowance) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"pro", "Pro", int64(2000)}},

	{`INSERT INTO plan_prices (plan_id, currency, billing_cycle, unit_amount) VALUES (?, ?, ?, ?) ON CONFLICT (plan_id, currency, billing_cycle) DO NOTHING`,
		[]any{"starter", "usd", "monthly", int64(2900)}},
	{`INSERT INTO plan_prices (plan_id, currency, billing_cycle, unit_amount) VALUES (?, ?, ?, ?) ON CONFLICT (plan_id, currency, billing_cycle) DO NOTHING`,
		[]any{"starter", "usd", "yearly", int64(29000)}},
	{`INSERT INTO plan_prices (plan_id, currency, billing_cycle, unit_amount) VALUES (?, ?, ?, ?) ON CONFLICT (plan_id, currency, billing_cycle) DO NOTHING`,
		[]any{"pro", "usd", "monthly", int64(9900)}},
	{`INSERT INTO plan_prices (plan_id, currency, billing_cycle, unit_amount) VALUES (?, ?, ?, ?) ON CONFLICT (plan_id, currency, billing_cycle) DO NOTHING`,
		[]any{"pro", "usd", "yearly", int64(99000)}},

	{`INSERT INTO credit_packs (id, name, credits) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"pack_small", "Small Pack", int64(100)}},
	{`INSERT INTO credit_packs (id, name, credits) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"pack_medium", "Medium Pack", int64(500)}},
	{`INSERT INTO credit_packs (id, name, credits) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		[]any{"pack_large", "Large Pack", int64(1000)}},

	{`INSERT INTO credit_pack_prices (pack_id, currency, unit_amount) VALUES (?, ?, ?) ON CONFLICT (pack_id, currency) DO NOTHING`,
		[]any{"pack_small", "usd", int64(1000)}},
	{`INSERT INTO credit_pack_prices (pack_id, currency, unit_amount) VALUES (?, ?, ?) ON CONFLICT (pack_id, currency) DO NOTHING`,
		[]any{"pack_medium", "usd", int64(4500)}},
	{`INSERT INTO credit_pack_prices (pack_id, currency, unit_amount) VALUES (?, ?, ?) ON CONFLICT (pack_id, currency) DO NOTHING`,
		[]any{"pack_large", "usd", int64(8000)}},
}

// EnsureCatalog inserts the default plans and packs if absent.
func EnsureCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range catalog {
			if err := tx.Exec(row.query, row.args...).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDemoTenant provisions a demo workspace for local development.
// The generated API key is logged once. Production deployments disable
// this with SEED_DEFAULT_TENANT=false.
func EnsureDemoTenant(db *gorm.DB, tenants tenantdomain.Service, log *zap.Logger) error {
	ctx := context.Background()

	_, err := tenants.TenantBySlug(ctx, demoTenantSlug)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tenantdomain.ErrTenantNotFound) {
		return err
	}

	result, err := tenants.Provision(ctx, tenantdomain.ProvisionInput{
		Name:           demoTenantName,
		Slug:           demoTenantSlug,
		PortalPassword: demoPortalPassword,
		PlanID:         "free",
	})
	if err != nil {
		if errors.Is(err, tenantdomain.ErrSlugTaken) {
			return nil
		}
		return err
	}

	log.Info("seeded demo tenant",
		zap.String("slug", demoTenantSlug),
		zap.String("api_key", result.APIKey),
	)
	return nil
}

// Module runs the seeders at startup.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, tenants tenantdomain.Service, log *zap.Logger) error {
		if err := EnsureCatalog(db); err != nil {
			return err
		}
		if cfg.SeedDefaultTenant && !cfg.IsProduction() {
			return EnsureDemoTenant(db, tenants, log)
		}
		return nil
	}),
)
