package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service prices actions and charges them against the tenant ledger.
type Service interface {
	// Cost resolves the credit price for one action, account overrides first.
	Cost(ctx context.Context, accountID snowflake.ID, actionKind string) (int64, error)

	// Record debits the account for one occurrence of actionKind.
	// Unknown action kinds fail closed before any balance mutation.
	Record(ctx context.Context, accountID snowflake.ID, actionKind string) (*UsageRecord, error)

	SetCostOverride(ctx context.Context, accountID snowflake.ID, actionKind string, credits int64) error
}

var (
	ErrUnknownActionKind = errors.New("unknown_action_kind")
	ErrInvalidCost       = errors.New("invalid_cost")
)
