package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	tenantdomain "github.com/veracify/veracify/internal/tenant/domain"
)

// ProvisionTenant signs up a new tenant workspace. The response carries
// the only copy of the plaintext API key.
func (s *Server) ProvisionTenant(c *gin.Context) {
	var input tenantdomain.ProvisionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		AbortWithError(c, newValidationError("invalid_request", "malformed tenant payload"))
		return
	}

	result, err := s.tenants.Provision(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
