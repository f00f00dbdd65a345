package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Provider session states as reported by the payment processor.
const (
	ProviderStatusOpen     = "open"
	ProviderStatusComplete = "complete"
	ProviderStatusExpired  = "expired"

	ProviderPaymentPaid   = "paid"
	ProviderPaymentUnpaid = "unpaid"
)

// ProviderState is a point-in-time snapshot of a provider-side session.
type ProviderState struct {
	Status        string
	PaymentStatus string
}

// CheckoutRequest describes a hosted checkout page to create. OriginURL,
// when set, overrides the configured return URLs.
type CheckoutRequest struct {
	Reference string
	AccountID snowflake.ID
	Kind      string
	Name      string
	Currency  string
	Amount    int64
	OriginURL string
}

// ProviderSession is the provider-side handle for a created checkout.
type ProviderSession struct {
	ID  string
	URL string
}

// ChargeRequest describes an off-session charge against a stored
// payment method, used by auto-refill.
type ChargeRequest struct {
	Reference string
	AccountID snowflake.ID
	Currency  string
	Amount    int64
}

// Provider abstracts the payment processor.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*ProviderSession, error)
	SessionState(ctx context.Context, providerSessionID string) (*ProviderState, error)
	ChargeSavedMethod(ctx context.Context, req ChargeRequest) error
}

// ErrProviderUnavailable signals a transient provider failure. Callers
// may retry; no local state is left behind.
var ErrProviderUnavailable = errors.New("provider_unavailable")

// MapProviderState folds a provider snapshot into a session status.
// A completed but unpaid session is an error state, never silently paid.
func MapProviderState(state ProviderState) Status {
	switch state.Status {
	case ProviderStatusComplete:
		if state.PaymentStatus == ProviderPaymentPaid {
			return StatusPaid
		}
		return StatusError
	case ProviderStatusExpired:
		return StatusExpired
	case ProviderStatusOpen:
		return StatusPending
	default:
		return StatusError
	}
}
