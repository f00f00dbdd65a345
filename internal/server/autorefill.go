package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	autorefilldomain "github.com/veracify/veracify/internal/autorefill/domain"
)

// GetAutoRefillSettings returns the tenant's refill policy, creating the
// disabled default on first read.
func (s *Server) GetAutoRefillSettings(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	settings, err := s.refills.EnsureSettings(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateAutoRefillSettings replaces the tenant's refill policy.
func (s *Server) UpdateAutoRefillSettings(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	var input autorefilldomain.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		AbortWithError(c, newValidationError("invalid_request", "malformed settings payload"))
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	settings, err := s.refills.UpdateSettings(c.Request.Context(), account.ID, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
