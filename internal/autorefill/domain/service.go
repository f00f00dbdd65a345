package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service manages auto-refill settings.
type Service interface {
	EnsureSettings(ctx context.Context, accountID snowflake.ID) (*Settings, error)
	GetSettings(ctx context.Context, accountID snowflake.ID) (*Settings, error)
	UpdateSettings(ctx context.Context, accountID snowflake.ID, input UpdateInput) (*Settings, error)
}

var (
	ErrSettingsNotFound = errors.New("refill_settings_not_found")
	ErrInvalidThreshold = errors.New("invalid_refill_threshold")
	ErrInvalidCap       = errors.New("invalid_refill_cap")
	ErrMissingPack      = errors.New("missing_refill_pack")
)
