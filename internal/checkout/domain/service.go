package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
)

// CreateSessionInput describes the checkout to open. BillingCycle only
// applies to subscription changes and defaults to monthly. OriginURL, when
// set, is where the provider sends the customer back after payment.
type CreateSessionInput struct {
	Kind         string
	TargetID     string
	Currency     string
	BillingCycle string
	OriginURL    string
}

// Service orchestrates checkout sessions from creation to resolution.
// Resolution is idempotent: the first terminal transition wins and applies
// the session's effect exactly once.
type Service interface {
	CreateSession(ctx context.Context, accountID snowflake.ID, input CreateSessionInput) (*Session, error)
	Session(ctx context.Context, sessionID string) (*Session, error)
	Sessions(ctx context.Context, accountID snowflake.ID, limit int) ([]Session, error)

	// CheckStatus queries the provider and resolves the session when the
	// provider reports a terminal state.
	CheckStatus(ctx context.Context, sessionID string) (*Session, error)

	// Resolve moves a session to a terminal status. Repeat calls return
	// the already-resolved session without reapplying its effect.
	Resolve(ctx context.Context, sessionID string, status Status) (*Session, error)

	Cancel(ctx context.Context, sessionID string) (*Session, error)

	// PurchasePackDirect charges the stored payment method for a pack and
	// credits the account immediately. Used by auto-refill.
	PurchasePackDirect(ctx context.Context, accountID snowflake.ID, packID, reason string) (*ledgerdomain.CreditTransaction, error)
}

var (
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrInvalidKind         = errors.New("invalid_session_kind")
	ErrInvalidTarget       = errors.New("invalid_session_target")
	ErrInvalidStatus       = errors.New("invalid_session_status")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrAlreadyResolved     = errors.New("session_already_resolved")
	ErrSessionUnsettled    = errors.New("session_unsettled")
)
