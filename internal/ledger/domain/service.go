package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LedgerService owns every credit balance mutation. Debit and Credit are
// the only write paths, so the non-negative balance invariant and the
// append-only transaction log cannot be bypassed.
type LedgerService interface {
	EnsureAccount(ctx context.Context, tenantID snowflake.ID, planID string, allowance int64, cycleResetsAt time.Time) (*CreditAccount, error)
	AccountByTenant(ctx context.Context, tenantID snowflake.ID) (*CreditAccount, error)
	AccountByID(ctx context.Context, accountID snowflake.ID) (*CreditAccount, error)

	Debit(ctx context.Context, accountID snowflake.ID, amount int64, actionKind string) (*CreditTransaction, error)
	Credit(ctx context.Context, accountID snowflake.ID, amount int64, reason string) (*CreditTransaction, error)
	GetBalance(ctx context.Context, accountID snowflake.ID) (*BalanceSnapshot, error)

	// CreditTx and ApplyPlanChangeTx run inside a caller-owned transaction,
	// so a payment effect and the state that triggered it commit or roll
	// back together.
	CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason string) (*CreditTransaction, error)
	ApplyPlanChangeTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, planID string, allowance int64) error

	ApplyPlanChange(ctx context.Context, accountID snowflake.ID, planID string, allowance int64) error

	History(ctx context.Context, accountID snowflake.ID, limit int) ([]CreditTransaction, error)
	UsageBreakdown(ctx context.Context, accountID snowflake.ID, days int) ([]ActionUsage, error)
}

// Service is the package alias for LedgerService.
type Service = LedgerService

// BalanceNotifier receives the post-debit balance after every successful
// debit. Implementations must not block the caller.
type BalanceNotifier interface {
	NotifyBalance(accountID snowflake.ID, balance int64)
}

// NotifierRegistry is implemented by ledger services that accept a
// notifier after construction. The refill engine sits downstream of the
// ledger in the dependency graph, so it registers itself late.
type NotifierRegistry interface {
	SetNotifier(BalanceNotifier)
}

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidPlan         = errors.New("invalid_plan")
)
