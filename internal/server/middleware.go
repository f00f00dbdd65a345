package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	obscontext "github.com/veracify/veracify/internal/observability/context"
	"github.com/veracify/veracify/internal/tenantcontext"
)

// APIKeyRequired authenticates requests with a bearer API key. Tenant
// identity is derived solely from the api_keys table, never from the
// request itself.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.tenants.AuthenticateAPIKey(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := tenantcontext.WithTenantID(c.Request.Context(), int64(key.TenantID))
		ctx = tenantcontext.WithAPIKeyID(ctx, int64(key.ID))
		ctx = obscontext.WithActor(ctx, "api_key", key.ID.String())
		ctx = obscontext.WithTenantID(ctx, key.TenantID.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimited applies the per-tenant request budget.
func (s *Server) RateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantcontext.TenantIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.limiter.Allow(strconv.FormatInt(tenantID, 10)) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

// tenantID returns the authenticated tenant or aborts with 401.
func (s *Server) tenantID(c *gin.Context) (snowflake.ID, bool) {
	id, ok := tenantcontext.TenantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return snowflake.ID(id), true
}
