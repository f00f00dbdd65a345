package tenantcontext

import "context"

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	apiKeyIDKey contextKey = "tenant_api_key_id"
)

// WithTenantID attaches the authenticated tenant to the context.
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	if tenantID == 0 {
		return ctx
	}
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext returns the authenticated tenant, if any.
func TenantIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	value, ok := ctx.Value(tenantIDKey).(int64)
	if !ok || value == 0 {
		return 0, false
	}
	return value, true
}

// WithAPIKeyID records which API key authenticated the request.
func WithAPIKeyID(ctx context.Context, keyID int64) context.Context {
	if keyID == 0 {
		return ctx
	}
	return context.WithValue(ctx, apiKeyIDKey, keyID)
}

// APIKeyIDFromContext returns the authenticating API key, if any.
func APIKeyIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	value, ok := ctx.Value(apiKeyIDKey).(int64)
	if !ok || value == 0 {
		return 0, false
	}
	return value, true
}
