// Package billingcycle resets monthly counters and grants plan allowances.
package billingcycle

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
)

// Config controls rollover batch processing.
type Config struct {
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

type dueAccount struct {
	ID               snowflake.ID
	TenantID         snowflake.ID
	MonthlyAllowance int64
	CycleResetsAt    time.Time
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Outbox *events.Outbox
	Ledger ledgerdomain.Service
}

// Rollover advances credit accounts whose billing cycle has ended.
type Rollover struct {
	cfg    Config
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	outbox *events.Outbox
	ledger ledgerdomain.Service
}

func NewRollover(p Params) *Rollover {
	return New(Config{}, p.DB, p.Log, p.Clock, p.Outbox, p.Ledger)
}

func New(cfg Config, db *gorm.DB, log *zap.Logger, clk clock.Clock, outbox *events.Outbox, ledger ledgerdomain.Service) *Rollover {
	return &Rollover{
		cfg:    cfg.withDefaults(),
		db:     db,
		log:    log.Named("billingcycle.rollover"),
		clock:  clk,
		outbox: outbox,
		ledger: ledger,
	}
}

// RunOnce rolls over one batch of due accounts and reports how many moved.
func (r *Rollover) RunOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()

	var due []dueAccount
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, tenant_id, monthly_allowance, cycle_resets_at
		FROM credit_accounts
		WHERE cycle_resets_at <= ?
		ORDER BY cycle_resets_at ASC, id ASC
		LIMIT ?
	`, now, r.cfg.BatchSize).Scan(&due).Error
	if err != nil {
		return 0, err
	}

	rolled := 0
	for _, account := range due {
		ok, err := r.rollAccount(ctx, account, now)
		if err != nil {
			r.log.Error("cycle rollover failed",
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			rolled++
		}
	}
	return rolled, nil
}

// rollAccount performs the cycle reset for one account. The guarded
// UPDATE keeps two concurrent runners from rolling the same account: only
// the one that still sees the old cycle_resets_at wins.
func (r *Rollover) rollAccount(ctx context.Context, account dueAccount, now time.Time) (bool, error) {
	next := account.CycleResetsAt
	for !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}

	res := r.db.WithContext(ctx).Exec(`
		UPDATE credit_accounts
		SET used_this_month = 0, cycle_resets_at = ?, updated_at = ?
		WHERE id = ? AND cycle_resets_at = ?
	`, next, now, account.ID, account.CycleResetsAt)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	err := r.db.WithContext(ctx).Exec(`
		UPDATE auto_refill_settings
		SET refills_this_month = 0, updated_at = ?
		WHERE account_id = ?
	`, now, account.ID).Error
	if err != nil {
		return false, err
	}

	if account.MonthlyAllowance > 0 {
		if _, err := r.ledger.Credit(ctx, account.ID, account.MonthlyAllowance, ledgerdomain.ReasonCycleAllowance); err != nil {
			return false, err
		}
	}

	publishErr := r.outbox.Publish(ctx, events.Event{
		TenantID:  account.TenantID,
		Type:      events.EventCycleRolledOver,
		DedupeKey: "rollover:" + account.ID.String() + ":" + next.UTC().Format(time.RFC3339),
		Payload: map[string]any{
			"account_id":        account.ID.String(),
			"allowance_granted": account.MonthlyAllowance,
			"next_reset_at":     next.UTC().Format(time.RFC3339),
		},
	})
	if publishErr != nil {
		r.log.Warn("rollover event publish failed", zap.Error(publishErr))
	}

	r.log.Info("billing cycle rolled over",
		zap.String("account_id", account.ID.String()),
		zap.Int64("allowance", account.MonthlyAllowance),
		zap.Time("next_reset_at", next),
	)
	return true, nil
}
