package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veracify/veracify/internal/clock"
	"github.com/veracify/veracify/internal/events"
	"github.com/veracify/veracify/internal/ledger/domain"
	"github.com/veracify/veracify/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Outbox   *events.Outbox
	Metrics  *metrics.BillingMetrics `optional:"true"`
	Notifier domain.BalanceNotifier  `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	outbox   *events.Outbox
	metrics  *metrics.BillingMetrics
	notifier domain.BalanceNotifier
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		notifier: p.Notifier,
	}
}

// SetNotifier installs the post-debit balance listener. Used by modules
// that depend on the ledger and therefore cannot be constructed before it.
func (s *Service) SetNotifier(n domain.BalanceNotifier) { s.notifier = n }

func (s *Service) EnsureAccount(ctx context.Context, tenantID snowflake.ID, planID string, allowance int64, cycleResetsAt time.Time) (*domain.CreditAccount, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, domain.ErrInvalidPlan
	}

	existing, err := s.AccountByTenant(ctx, tenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	account := &domain.CreditAccount{
		ID:               s.genID.Generate(),
		TenantID:         tenantID,
		PlanID:           planID,
		Balance:          allowance,
		MonthlyAllowance: allowance,
		CycleResetsAt:    cycleResetsAt,
		CreatedAt:        s.clock.Now(),
		UpdatedAt:        s.clock.Now(),
	}

	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO credit_accounts (id, tenant_id, plan_id, balance, monthly_allowance, used_this_month, cycle_resets_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING
	`, account.ID, account.TenantID, account.PlanID, account.Balance, account.MonthlyAllowance, account.CycleResetsAt, account.CreatedAt, account.UpdatedAt)
	if res.Error != nil {
		return nil, fmt.Errorf("ensure account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.AccountByTenant(ctx, tenantID)
	}

	s.log.Info("credit account created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_id", planID),
		zap.Int64("allowance", allowance),
	)
	return account, nil
}

func (s *Service) AccountByTenant(ctx context.Context, tenantID snowflake.ID) (*domain.CreditAccount, error) {
	var account domain.CreditAccount
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) AccountByID(ctx context.Context, accountID snowflake.ID) (*domain.CreditAccount, error) {
	var account domain.CreditAccount
	err := s.db.WithContext(ctx).
		Where("id = ?", accountID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Debit atomically deducts amount from the account balance. The guarded
// UPDATE only matches when balance >= amount, so two concurrent debits can
// never drive the balance negative: the second one finds no matching row
// and fails with ErrInsufficientCredits.
func (s *Service) Debit(ctx context.Context, accountID snowflake.ID, amount int64, actionKind string) (*domain.CreditTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		s.metrics.IncDebit("invalid")
		return nil, err
	}

	var entry *domain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE credit_accounts
			SET balance = balance - ?,
			    used_this_month = used_this_month + ?,
			    updated_at = ?
			WHERE id = ? AND balance >= ?
		`, amount, amount, s.clock.Now(), accountID, amount)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&domain.CreditAccount{}).Where("id = ?", accountID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrAccountNotFound
			}
			return domain.ErrInsufficientCredits
		}

		var account domain.CreditAccount
		if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
			return err
		}

		entry = &domain.CreditTransaction{
			ID:              s.genID.Generate(),
			AccountID:       accountID,
			ActionKind:      actionKind,
			CreditsConsumed: amount,
			BalanceAfter:    account.Balance,
			CreatedAt:       s.clock.Now(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			TenantID:  account.TenantID,
			Type:      events.EventCreditDebited,
			DedupeKey: "debit:" + entry.ID.String(),
			Payload: events.LedgerEntryPayload{
				TransactionID: entry.ID.String(),
				AccountID:     accountID.String(),
				ActionKind:    actionKind,
				Amount:        amount,
				BalanceAfter:  account.Balance,
			}.ToMap(),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			s.metrics.IncDebit("insufficient")
		} else if !errors.Is(err, domain.ErrAccountNotFound) {
			s.metrics.IncDebit("failed")
		}
		return nil, err
	}

	s.metrics.IncDebit("success")
	if s.notifier != nil {
		s.notifier.NotifyBalance(accountID, entry.BalanceAfter)
	}
	return entry, nil
}

// Credit atomically adds amount to the account balance.
func (s *Service) Credit(ctx context.Context, accountID snowflake.ID, amount int64, reason string) (*domain.CreditTransaction, error) {
	var entry *domain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.CreditTx(ctx, tx, accountID, amount, reason)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx is Credit running on a caller-owned transaction. The caller
// decides when (or whether) the credit commits.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason string) (*domain.CreditTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	res := tx.Exec(`
		UPDATE credit_accounts
		SET balance = balance + ?, updated_at = ?
		WHERE id = ?
	`, amount, s.clock.Now(), accountID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrAccountNotFound
	}

	var account domain.CreditAccount
	if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
		return nil, err
	}

	entry := &domain.CreditTransaction{
		ID:           s.genID.Generate(),
		AccountID:    accountID,
		CreditsAdded: amount,
		Reason:       reason,
		BalanceAfter: account.Balance,
		CreatedAt:    s.clock.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}

	err := s.outbox.PublishTx(ctx, tx, events.Event{
		TenantID:  account.TenantID,
		Type:      events.EventCreditCredited,
		DedupeKey: "credit:" + entry.ID.String(),
		Payload: events.LedgerEntryPayload{
			TransactionID: entry.ID.String(),
			AccountID:     accountID.String(),
			Reason:        reason,
			Amount:        amount,
			BalanceAfter:  account.Balance,
		}.ToMap(),
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCredit(reason)
	return entry, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (*domain.BalanceSnapshot, error) {
	account, err := s.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceSnapshot{
		AccountID:        account.ID,
		TenantID:         account.TenantID,
		PlanID:           account.PlanID,
		Balance:          account.Balance,
		UsedThisMonth:    account.UsedThisMonth,
		MonthlyAllowance: account.MonthlyAllowance,
	}, nil
}

// ApplyPlanChange switches the account to a new plan and grants the new
// monthly allowance on top of the remaining balance.
func (s *Service) ApplyPlanChange(ctx context.Context, accountID snowflake.ID, planID string, allowance int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ApplyPlanChangeTx(ctx, tx, accountID, planID, allowance)
	})
}

// ApplyPlanChangeTx is ApplyPlanChange running on a caller-owned
// transaction.
func (s *Service) ApplyPlanChangeTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, planID string, allowance int64) error {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return domain.ErrInvalidPlan
	}

	res := tx.Exec(`
		UPDATE credit_accounts
		SET plan_id = ?, monthly_allowance = ?, balance = balance + ?, updated_at = ?
		WHERE id = ?
	`, planID, allowance, allowance, s.clock.Now(), accountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}

	var account domain.CreditAccount
	if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
		return err
	}

	if allowance > 0 {
		entry := &domain.CreditTransaction{
			ID:           s.genID.Generate(),
			AccountID:    accountID,
			CreditsAdded: allowance,
			Reason:       domain.ReasonPlanChange,
			BalanceAfter: account.Balance,
			CreatedAt:    s.clock.Now(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
	}

	s.log.Info("plan applied",
		zap.String("account_id", accountID.String()),
		zap.String("plan_id", planID),
		zap.Int64("allowance", allowance),
	)
	return nil
}

func (s *Service) History(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txs []domain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Service) UsageBreakdown(ctx context.Context, accountID snowflake.ID, days int) ([]domain.ActionUsage, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	since := s.clock.Now().AddDate(0, 0, -days)

	var rows []domain.ActionUsage
	err := s.db.WithContext(ctx).Raw(`
		SELECT action_kind,
		       SUM(credits_consumed) AS credits_consumed,
		       COUNT(*) AS count
		FROM credit_transactions
		WHERE account_id = ? AND credits_consumed > 0 AND created_at >= ?
		GROUP BY action_kind
		ORDER BY credits_consumed DESC
	`, accountID, since).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
