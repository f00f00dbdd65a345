// Package domain defines per-account automatic refill policies.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Settings is the auto-refill policy for one credit account. A refill
// fires when the balance drops strictly below ThresholdCredits and the
// monthly counter has not reached MaxRefillsPerMonth.
type Settings struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"-"`
	AccountID          snowflake.ID `gorm:"not null;uniqueIndex" json:"account_id"`
	Enabled            bool         `gorm:"not null;default:false" json:"enabled"`
	ThresholdCredits   int64        `gorm:"not null;default:0" json:"threshold_credits"`
	RefillPackID       string       `gorm:"type:text;not null;default:''" json:"refill_pack_id"`
	MaxRefillsPerMonth int64        `gorm:"not null;default:0" json:"max_refills_per_month"`
	RefillsThisMonth   int64        `gorm:"not null;default:0" json:"refills_this_month"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Settings) TableName() string { return "auto_refill_settings" }

// UpdateInput carries a full settings replacement from the API.
type UpdateInput struct {
	Enabled            bool   `json:"enabled"`
	ThresholdCredits   int64  `json:"threshold_credits"`
	RefillPackID       string `json:"refill_pack_id"`
	MaxRefillsPerMonth int64  `json:"max_refills_per_month"`
}
