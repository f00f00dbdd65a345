package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service records audit log entries.
type Service interface {
	AuditLog(
		ctx context.Context,
		tenantID *snowflake.ID,
		actorType string,
		actorID *string,
		action string,
		targetType string,
		targetID *string,
		metadata map[string]any,
	) error
}
