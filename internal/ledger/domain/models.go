package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Credit reasons recorded on credit-side transactions.
const (
	ReasonPackPurchase   = "pack_purchase"
	ReasonAutoRefill     = "auto_refill"
	ReasonCycleAllowance = "cycle_allowance"
	ReasonAdjustment     = "adjustment"
	ReasonPlanChange     = "plan_change"
)

// CreditAccount holds the consumable credit state for one tenant.
type CreditAccount struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID `gorm:"not null;uniqueIndex" json:"tenant_id"`
	PlanID           string       `gorm:"type:text;not null" json:"plan_id"`
	Balance          int64        `gorm:"not null;default:0" json:"balance"`
	MonthlyAllowance int64        `gorm:"not null;default:0" json:"monthly_allowance"`
	UsedThisMonth    int64        `gorm:"not null;default:0" json:"used_this_month"`
	CycleResetsAt    time.Time    `gorm:"not null" json:"cycle_resets_at"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction is an append-only ledger entry. Exactly one of
// CreditsConsumed and CreditsAdded is non-zero.
type CreditTransaction struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID       snowflake.ID `gorm:"not null;index" json:"account_id"`
	ActionKind      string       `gorm:"type:text" json:"action_kind,omitempty"`
	CreditsConsumed int64        `gorm:"not null;default:0" json:"credits_consumed"`
	CreditsAdded    int64        `gorm:"not null;default:0" json:"credits_added"`
	Reason          string       `gorm:"type:text" json:"reason,omitempty"`
	BalanceAfter    int64        `gorm:"not null" json:"balance_after"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// BalanceSnapshot is a read-only view of an account's credit state.
type BalanceSnapshot struct {
	AccountID        snowflake.ID `json:"account_id"`
	TenantID         snowflake.ID `json:"tenant_id"`
	PlanID           string       `json:"plan_id"`
	Balance          int64        `json:"balance"`
	UsedThisMonth    int64        `json:"used_this_month"`
	MonthlyAllowance int64        `json:"monthly_allowance"`
}

// ActionUsage aggregates consumption for one metered action kind.
type ActionUsage struct {
	ActionKind      string `json:"action_kind"`
	CreditsConsumed int64  `json:"credits_consumed"`
	Count           int64  `json:"count"`
}
