// Package domain defines tenants and their API credentials.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is one customer workspace.
type Tenant struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Name               string       `gorm:"type:text;not null" json:"name"`
	Slug               string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	PortalPasswordHash string       `gorm:"type:text;not null" json:"-"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// APIKey authenticates API requests for a tenant. Only the SHA-256 of
// the key material is stored.
type APIKey struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	KeyHash   string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt *time.Time   `gorm:"" json:"expires_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Expired reports whether the key is past its expiry.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HashAPIKey returns the hex SHA-256 digest used for key lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
