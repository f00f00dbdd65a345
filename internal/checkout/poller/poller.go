// Package poller watches a checkout session until the provider settles it.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/veracify/veracify/internal/checkout/domain"
	appconfig "github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/observability/metrics"
)

// Outcome is the final verdict of one polling run.
type Outcome string

const (
	OutcomePaid         Outcome = "paid"
	OutcomeNotCompleted Outcome = "not_completed"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeError        Outcome = "error"
)

// Config controls the polling cadence.
type Config struct {
	Interval time.Duration
	Attempts int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 10
	}
	return c
}

type Params struct {
	fx.In

	Config   appconfig.Config
	Log      *zap.Logger
	Checkout domain.Service
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

// Poller repeatedly checks a session's provider status.
type Poller struct {
	cfg      Config
	log      *zap.Logger
	checkout domain.Service
	metrics  *metrics.BillingMetrics
}

func NewPoller(p Params) *Poller {
	return New(Config{
		Interval: p.Config.CheckoutPollInterval,
		Attempts: p.Config.CheckoutPollAttempts,
	}, p.Log, p.Checkout, p.Metrics)
}

func New(cfg Config, log *zap.Logger, checkout domain.Service, m *metrics.BillingMetrics) *Poller {
	return &Poller{
		cfg:      cfg.withDefaults(),
		log:      log.Named("checkout.poller"),
		checkout: checkout,
		metrics:  m,
	}
}

// Poll checks the session once per interval until it settles or the
// attempt budget runs out. A timeout is not a failure: the session stays
// pending and a later webhook or poll can still settle it.
func (p *Poller) Poll(ctx context.Context, sessionID string) (Outcome, *domain.Session, error) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var session *domain.Session
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		var err error
		session, err = p.checkout.CheckStatus(ctx, sessionID)
		if err != nil {
			if errors.Is(err, domain.ErrProviderUnavailable) && attempt < p.cfg.Attempts {
				p.log.Warn("status check failed, retrying",
					zap.String("session_id", sessionID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				if err := p.wait(ctx, ticker); err != nil {
					return p.done(OutcomeError, session, err)
				}
				continue
			}
			return p.done(OutcomeError, session, err)
		}

		switch {
		case session.Status == domain.StatusPaid:
			p.log.Info("session settled",
				zap.String("session_id", sessionID),
				zap.Int("attempt", attempt),
			)
			return p.done(OutcomePaid, session, nil)
		case session.Status.Terminal():
			return p.done(OutcomeNotCompleted, session, nil)
		}

		if attempt < p.cfg.Attempts {
			if err := p.wait(ctx, ticker); err != nil {
				return p.done(OutcomeError, session, err)
			}
		}
	}

	p.log.Info("polling budget exhausted, session still pending",
		zap.String("session_id", sessionID),
		zap.Int("attempts", p.cfg.Attempts),
	)
	return p.done(OutcomeTimeout, session, nil)
}

func (p *Poller) wait(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}

func (p *Poller) done(outcome Outcome, session *domain.Session, err error) (Outcome, *domain.Session, error) {
	p.metrics.IncPollOutcome(string(outcome))
	return outcome, session, err
}
