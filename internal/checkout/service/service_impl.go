package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/veracify/veracify/internal/audit/domain"
	"github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	"github.com/veracify/veracify/internal/observability/metrics"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Outbox   *events.Outbox
	Ledger   ledgerdomain.Service
	Plans    plandomain.Service
	Provider domain.Provider
	Audit    auditdomain.Service     `optional:"true"`
	Metrics  *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	outbox   *events.Outbox
	ledger   ledgerdomain.Service
	plans    plandomain.Service
	provider domain.Provider
	audit    auditdomain.Service
	metrics  *metrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("checkout.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		outbox:   p.Outbox,
		ledger:   p.Ledger,
		plans:    p.Plans,
		provider: p.Provider,
		audit:    p.Audit,
		metrics:  p.Metrics,
	}
}

// CreateSession opens a checkout with the provider and then persists the
// pending session. A provider failure leaves no session behind.
func (s *Service) CreateSession(ctx context.Context, accountID snowflake.ID, input domain.CreateSessionInput) (*domain.Session, error) {
	kind := strings.TrimSpace(input.Kind)
	targetID := strings.TrimSpace(input.TargetID)
	if targetID == "" {
		return nil, domain.ErrInvalidTarget
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}
	cycle := strings.ToLower(strings.TrimSpace(input.BillingCycle))
	if cycle == "" {
		cycle = plandomain.BillingCycleMonthly
	}
	if cycle != plandomain.BillingCycleMonthly && cycle != plandomain.BillingCycleYearly {
		return nil, domain.ErrInvalidBillingCycle
	}

	account, err := s.ledger.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var (
		name    string
		credits int64
		amount  int64
	)
	switch kind {
	case domain.KindCreditPack:
		pack, err := s.plans.Pack(ctx, targetID)
		if err != nil {
			return nil, err
		}
		price, err := s.plans.PackPrice(ctx, targetID, currency)
		if err != nil {
			return nil, err
		}
		name, credits, amount = pack.Name, pack.Credits, price.UnitAmount

	case domain.KindSubscriptionChange:
		plan, err := s.plans.Plan(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if plan.IsFree() {
			return s.createFreePlanSession(ctx, account, plan, currency)
		}
		price, err := s.plans.PlanPrice(ctx, targetID, currency, cycle)
		if err != nil {
			return nil, err
		}
		name, credits, amount = plan.Name, plan.MonthlyAllowance, price.UnitAmount

	default:
		return nil, domain.ErrInvalidKind
	}

	reference := "chk_" + s.genID.Generate().String()
	providerSession, err := s.provider.CreateCheckout(ctx, domain.CheckoutRequest{
		Reference: reference,
		AccountID: accountID,
		Kind:      kind,
		Name:      name,
		Currency:  currency,
		Amount:    amount,
		OriginURL: strings.TrimSpace(input.OriginURL),
	})
	if err != nil {
		s.log.Warn("provider checkout failed",
			zap.String("reference", reference),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:          s.genID.Generate(),
		SessionID:   providerSession.ID,
		AccountID:   accountID,
		Kind:        kind,
		TargetID:    targetID,
		Currency:    currency,
		Credits:     credits,
		Amount:      amount,
		Status:      domain.StatusPending,
		CheckoutURL: providerSession.URL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.publishSessionEvent(ctx, account.TenantID, events.EventCheckoutCreated, session); err != nil {
		s.log.Warn("checkout event publish failed", zap.Error(err))
	}
	return session, nil
}

// createFreePlanSession records a subscription change to the free plan as
// an already-paid session. No provider round-trip happens; the session row
// and the plan change commit together.
func (s *Service) createFreePlanSession(ctx context.Context, account *ledgerdomain.CreditAccount, plan *plandomain.Plan, currency string) (*domain.Session, error) {
	now := s.clock.Now()
	session := &domain.Session{
		ID:         s.genID.Generate(),
		AccountID:  account.ID,
		Kind:       domain.KindSubscriptionChange,
		TargetID:   plan.ID,
		Currency:   currency,
		Credits:    plan.MonthlyAllowance,
		Status:     domain.StatusPaid,
		CreatedAt:  now,
		UpdatedAt:  now,
		ResolvedAt: &now,
	}
	session.SessionID = "free_" + session.ID.String()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create free plan session: %w", err)
		}
		return s.ledger.ApplyPlanChangeTx(ctx, tx, account.ID, plan.ID, plan.MonthlyAllowance)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCheckoutResolution(string(domain.StatusPaid))
	s.auditResolution(ctx, account.TenantID, session)
	if err := s.publishSessionEvent(ctx, account.TenantID, events.EventCheckoutResolved, session); err != nil {
		s.log.Warn("checkout event publish failed", zap.Error(err))
	}
	return session, nil
}

func (s *Service) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.WithContext(ctx).
		Where("session_id = ?", strings.TrimSpace(sessionID)).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) Sessions(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var sessions []domain.Session
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Service) CheckStatus(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}

	state, err := s.provider.SessionState(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	status := domain.MapProviderState(*state)
	if !status.Terminal() {
		return session, nil
	}
	return s.Resolve(ctx, sessionID, status)
}

// Resolve performs the single pending-to-terminal transition. The guarded
// UPDATE ensures exactly one caller wins; everyone else observes the
// already-resolved row. The transition and the paid effect share one
// transaction: if crediting fails the session stays pending and a later
// resolution attempt applies the effect instead.
func (s *Service) Resolve(ctx context.Context, sessionID string, status domain.Status) (*domain.Session, error) {
	if !status.Terminal() {
		return nil, domain.ErrInvalidStatus
	}

	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}

	// Plan lookups happen before the transaction opens so the paid effect
	// only touches the transaction handle.
	var plan *plandomain.Plan
	if status == domain.StatusPaid && session.Kind == domain.KindSubscriptionChange {
		plan, err = s.plans.Plan(ctx, session.TargetID)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	won := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE checkout_sessions
			SET status = ?, resolved_at = ?, updated_at = ?
			WHERE session_id = ? AND status IN (?, ?)
		`, status, now, now, session.SessionID, domain.StatusCreated, domain.StatusPending)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true

		if status == domain.StatusPaid {
			return s.applyPaidEffect(ctx, tx, session, plan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return s.Session(ctx, sessionID)
	}

	session.Status = status
	session.ResolvedAt = &now

	s.metrics.IncCheckoutResolution(string(status))
	if account, err := s.ledger.AccountByID(ctx, session.AccountID); err == nil {
		s.auditResolution(ctx, account.TenantID, session)
		if err := s.publishSessionEvent(ctx, account.TenantID, events.EventCheckoutResolved, session); err != nil {
			s.log.Warn("checkout event publish failed", zap.Error(err))
		}
	}

	s.log.Info("checkout session resolved",
		zap.String("session_id", session.SessionID),
		zap.String("status", string(status)),
	)
	return session, nil
}

func (s *Service) applyPaidEffect(ctx context.Context, tx *gorm.DB, session *domain.Session, plan *plandomain.Plan) error {
	switch session.Kind {
	case domain.KindCreditPack:
		_, err := s.ledger.CreditTx(ctx, tx, session.AccountID, session.Credits, ledgerdomain.ReasonPackPurchase)
		return err
	case domain.KindSubscriptionChange:
		return s.ledger.ApplyPlanChangeTx(ctx, tx, session.AccountID, plan.ID, plan.MonthlyAllowance)
	default:
		return domain.ErrInvalidKind
	}
}

func (s *Service) Cancel(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.Resolve(ctx, sessionID, domain.StatusCancelled)
}

// PurchasePackDirect charges the stored payment method and records the
// purchase as an immediately-resolved session, so auto-refill buys show up
// in the same audit trail as hosted checkouts.
func (s *Service) PurchasePackDirect(ctx context.Context, accountID snowflake.ID, packID, reason string) (*ledgerdomain.CreditTransaction, error) {
	pack, err := s.plans.Pack(ctx, packID)
	if err != nil {
		return nil, err
	}
	price, err := s.plans.PackPrice(ctx, packID, "usd")
	if err != nil {
		return nil, err
	}

	reference := "refill_" + s.genID.Generate().String()
	err = s.provider.ChargeSavedMethod(ctx, domain.ChargeRequest{
		Reference: reference,
		AccountID: accountID,
		Currency:  price.Currency,
		Amount:    price.UnitAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	if reason == "" {
		reason = ledgerdomain.ReasonPackPurchase
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:         s.genID.Generate(),
		SessionID:  reference,
		AccountID:  accountID,
		Kind:       domain.KindCreditPack,
		TargetID:   packID,
		Currency:   price.Currency,
		Credits:    pack.Credits,
		Amount:     price.UnitAmount,
		Status:     domain.StatusPaid,
		CreatedAt:  now,
		UpdatedAt:  now,
		ResolvedAt: &now,
	}

	var entry *ledgerdomain.CreditTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create refill session: %w", err)
		}
		var txErr error
		entry, txErr = s.ledger.CreditTx(ctx, tx, accountID, pack.Credits, reason)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCheckoutResolution(string(domain.StatusPaid))
	if account, err := s.ledger.AccountByID(ctx, accountID); err == nil {
		s.auditResolution(ctx, account.TenantID, session)
		if err := s.publishSessionEvent(ctx, account.TenantID, events.EventCheckoutResolved, session); err != nil {
			s.log.Warn("checkout event publish failed", zap.Error(err))
		}
	}
	return entry, nil
}

func (s *Service) auditResolution(ctx context.Context, tenantID snowflake.ID, session *domain.Session) {
	if s.audit == nil {
		return
	}
	err := s.audit.AuditLog(ctx, &tenantID, "", nil, "checkout.resolved", "checkout_session", &session.SessionID, map[string]any{
		"kind":      session.Kind,
		"target_id": session.TargetID,
		"status":    string(session.Status),
		"credits":   session.Credits,
		"amount":    session.Amount,
	})
	if err != nil {
		s.log.Warn("checkout audit write failed", zap.Error(err))
	}
}

func (s *Service) publishSessionEvent(ctx context.Context, tenantID snowflake.ID, eventType string, session *domain.Session) error {
	return s.outbox.Publish(ctx, events.Event{
		TenantID:  tenantID,
		Type:      eventType,
		DedupeKey: eventType + ":" + session.SessionID,
		Payload: events.CheckoutPayload{
			SessionID: session.SessionID,
			AccountID: session.AccountID.String(),
			Kind:      session.Kind,
			TargetID:  session.TargetID,
			Status:    string(session.Status),
		}.ToMap(),
	})
}
