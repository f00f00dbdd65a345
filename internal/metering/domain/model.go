// Package domain defines metered action kinds and their credit costs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Metered action kinds. Unknown kinds are rejected, never priced at zero.
const (
	ActionContentAnalysis   = "content_analysis"
	ActionContentGeneration = "content_generation"
	ActionImageGeneration   = "image_generation"
	ActionContentPublish    = "content_publish"
	ActionComplianceScan    = "compliance_scan"
)

// DefaultCosts is the platform-wide credit price per action kind.
var DefaultCosts = map[string]int64{
	ActionContentAnalysis:   1,
	ActionContentGeneration: 5,
	ActionImageGeneration:   10,
	ActionContentPublish:    2,
	ActionComplianceScan:    3,
}

// CostOverride is a per-account price override for one action kind.
type CostOverride struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	AccountID  snowflake.ID `gorm:"not null;uniqueIndex:ux_metering_costs_account_action,priority:1"`
	ActionKind string       `gorm:"type:text;not null;uniqueIndex:ux_metering_costs_account_action,priority:2"`
	Credits    int64        `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CostOverride) TableName() string { return "metering_costs" }

// UsageRecord reports the outcome of one recorded action.
type UsageRecord struct {
	ActionKind   string `json:"action_kind"`
	Credits      int64  `json:"credits"`
	BalanceAfter int64  `json:"balance_after"`
}
