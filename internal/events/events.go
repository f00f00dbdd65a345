package events

// Billing event types emitted by the ledger and checkout flows.
const (
	EventCreditDebited     = "credit.debited"
	EventCreditCredited    = "credit.credited"
	EventRefillTriggered   = "refill.triggered"
	EventCheckoutCreated   = "checkout.created"
	EventCheckoutResolved  = "checkout.resolved"
	EventCycleRolledOver   = "cycle.rolled_over"
	EventSettingsUpdated   = "auto_refill.settings_updated"
	EventTenantProvisioned = "tenant.provisioned"
)

// LedgerEntryPayload captures the minimal data to replay a ledger mutation.
type LedgerEntryPayload struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	ActionKind    string `json:"action_kind,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p LedgerEntryPayload) ToMap() map[string]any {
	payload := map[string]any{
		"transaction_id": p.TransactionID,
		"account_id":     p.AccountID,
		"amount":         p.Amount,
		"balance_after":  p.BalanceAfter,
	}
	if p.ActionKind != "" {
		payload["action_kind"] = p.ActionKind
	}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	return payload
}

// CheckoutPayload captures the minimal data to track a checkout session event.
type CheckoutPayload struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
	TargetID  string `json:"target_id"`
	Status    string `json:"status,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CheckoutPayload) ToMap() map[string]any {
	payload := map[string]any{
		"session_id": p.SessionID,
		"account_id": p.AccountID,
		"kind":       p.Kind,
		"target_id":  p.TargetID,
	}
	if p.Status != "" {
		payload["status"] = p.Status
	}
	return payload
}
