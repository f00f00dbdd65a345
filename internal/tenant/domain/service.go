package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ProvisionInput creates a tenant with its billing scaffolding.
type ProvisionInput struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	PortalPassword string `json:"portal_password"`
	PlanID         string `json:"plan_id"`
}

// ProvisionResult returns the created tenant and its initial API key.
// The plaintext key is shown exactly once.
type ProvisionResult struct {
	Tenant *Tenant `json:"tenant"`
	APIKey string  `json:"api_key"`
}

// Service manages tenants and API keys.
type Service interface {
	Provision(ctx context.Context, input ProvisionInput) (*ProvisionResult, error)
	TenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	TenantByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	VerifyPortalPassword(ctx context.Context, slug, password string) (*Tenant, error)

	CreateAPIKey(ctx context.Context, tenantID snowflake.ID, name string) (string, *APIKey, error)
	AuthenticateAPIKey(ctx context.Context, key string) (*APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID snowflake.ID) error
}

var (
	ErrTenantNotFound   = errors.New("tenant_not_found")
	ErrSlugTaken        = errors.New("tenant_slug_taken")
	ErrInvalidInput     = errors.New("invalid_tenant_input")
	ErrInvalidPassword  = errors.New("invalid_portal_password")
	ErrAPIKeyNotFound   = errors.New("api_key_not_found")
	ErrAPIKeyInvalid    = errors.New("api_key_invalid")
)
