// Package engine turns low-balance signals into automatic pack purchases.
package engine

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	autorefilldomain "github.com/veracify/veracify/internal/autorefill/domain"
	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/clock"
	appconfig "github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	"github.com/veracify/veracify/internal/observability/metrics"
)

type signal struct {
	accountID snowflake.ID
	balance   int64
}

type Params struct {
	fx.In

	Config   appconfig.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Outbox   *events.Outbox
	Ledger   ledgerdomain.Service
	Checkout checkoutdomain.Service
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

// Engine consumes post-debit balance signals and purchases the configured
// refill pack when the policy fires. It implements the ledger's
// BalanceNotifier so debits stay decoupled from purchasing.
type Engine struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	outbox   *events.Outbox
	ledger   ledgerdomain.Service
	checkout checkoutdomain.Service
	metrics  *metrics.BillingMetrics
	signals  chan signal
}

func NewEngine(p Params) *Engine {
	size := p.Config.RefillQueueSize
	if size <= 0 {
		size = 256
	}
	return &Engine{
		db:       p.DB,
		log:      p.Log.Named("autorefill.engine"),
		clock:    p.Clock,
		outbox:   p.Outbox,
		ledger:   p.Ledger,
		checkout: p.Checkout,
		metrics:  p.Metrics,
		signals:  make(chan signal, size),
	}
}

// NotifyBalance queues a balance signal. The send never blocks: under
// pressure signals are dropped, which is safe because the next debit on
// the same account produces a fresh one.
func (e *Engine) NotifyBalance(accountID snowflake.ID, balance int64) {
	select {
	case e.signals <- signal{accountID: accountID, balance: balance}:
	default:
		e.log.Warn("refill signal queue full, dropping signal",
			zap.String("account_id", accountID.String()),
		)
	}
}

// Run consumes signals until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("refill engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("refill engine stopped")
			return
		case sig := <-e.signals:
			if _, err := e.Evaluate(ctx, sig.accountID, sig.balance); err != nil {
				e.log.Error("refill evaluation failed",
					zap.String("account_id", sig.accountID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// Evaluate applies the refill policy to one balance observation and
// returns whether a refill was purchased.
//
// The guarded UPDATE increments the monthly counter only when the policy
// fires: enabled, balance strictly below the threshold, counter under the
// cap. Claiming the counter slot before purchasing means two overlapping
// evaluations can never double-buy; if the purchase then fails the slot
// is released.
func (e *Engine) Evaluate(ctx context.Context, accountID snowflake.ID, balance int64) (bool, error) {
	res := e.db.WithContext(ctx).Exec(`
		UPDATE auto_refill_settings
		SET refills_this_month = refills_this_month + 1, updated_at = ?
		WHERE account_id = ?
		  AND enabled
		  AND ? < threshold_credits
		  AND refills_this_month < max_refills_per_month
	`, e.clock.Now(), accountID, balance)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Disabled, above threshold, or cap reached. All silent.
		return false, nil
	}

	var settings autorefilldomain.Settings
	if err := e.db.WithContext(ctx).Where("account_id = ?", accountID).First(&settings).Error; err != nil {
		e.release(ctx, accountID)
		return false, err
	}

	entry, err := e.checkout.PurchasePackDirect(ctx, accountID, settings.RefillPackID, ledgerdomain.ReasonAutoRefill)
	if err != nil {
		e.release(ctx, accountID)
		if errors.Is(err, checkoutdomain.ErrProviderUnavailable) {
			e.log.Warn("refill purchase failed, slot released",
				zap.String("account_id", accountID.String()),
				zap.String("pack_id", settings.RefillPackID),
				zap.Error(err),
			)
			return false, nil
		}
		return false, err
	}

	e.metrics.IncRefillTriggered()
	e.log.Info("auto refill purchased",
		zap.String("account_id", accountID.String()),
		zap.String("pack_id", settings.RefillPackID),
		zap.Int64("credits", entry.CreditsAdded),
		zap.Int64("balance_after", entry.BalanceAfter),
	)

	if account, err := e.ledger.AccountByID(ctx, accountID); err == nil {
		publishErr := e.outbox.Publish(ctx, events.Event{
			TenantID:  account.TenantID,
			Type:      events.EventRefillTriggered,
			DedupeKey: "refill:" + entry.ID.String(),
			Payload: map[string]any{
				"account_id":     accountID.String(),
				"pack_id":        settings.RefillPackID,
				"credits":        entry.CreditsAdded,
				"balance_after":  entry.BalanceAfter,
				"transaction_id": entry.ID.String(),
			},
		})
		if publishErr != nil {
			e.log.Warn("refill event publish failed", zap.Error(publishErr))
		}
	}
	return true, nil
}

func (e *Engine) release(ctx context.Context, accountID snowflake.ID) {
	err := e.db.WithContext(ctx).Exec(`
		UPDATE auto_refill_settings
		SET refills_this_month = refills_this_month - 1, updated_at = ?
		WHERE account_id = ? AND refills_this_month > 0
	`, e.clock.Now(), accountID).Error
	if err != nil {
		e.log.Error("refill slot release failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	}
}
