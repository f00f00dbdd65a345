// Package domain defines checkout sessions and their lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a checkout session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Session kinds.
const (
	KindCreditPack         = "credit_pack"
	KindSubscriptionChange = "subscription_change"
)

// Session tracks one checkout round-trip with the payment provider.
type Session struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"-"`
	SessionID   string       `gorm:"type:text;not null;uniqueIndex" json:"session_id"`
	AccountID   snowflake.ID `gorm:"not null;index" json:"account_id"`
	Kind        string       `gorm:"type:text;not null" json:"kind"`
	TargetID    string       `gorm:"type:text;not null" json:"target_id"`
	Currency    string       `gorm:"type:text;not null" json:"currency"`
	Credits     int64        `gorm:"not null;default:0" json:"credits"`
	Amount      int64        `gorm:"not null;default:0" json:"amount"`
	Status      Status       `gorm:"type:text;not null;default:created" json:"status"`
	CheckoutURL string       `gorm:"type:text;not null;default:''" json:"checkout_url,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	ResolvedAt  *time.Time   `gorm:"" json:"resolved_at,omitempty"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "checkout_sessions" }
