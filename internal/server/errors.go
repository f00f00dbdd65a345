package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	autorefilldomain "github.com/veracify/veracify/internal/autorefill/domain"
	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	meteringdomain "github.com/veracify/veracify/internal/metering/domain"
	obscontext "github.com/veracify/veracify/internal/observability/context"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	tenantdomain "github.com/veracify/veracify/internal/tenant/domain"
)

// Transport-level sentinel errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type apiError struct {
	status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newValidationError(code, message string) *apiError {
	return &apiError{status: http.StatusBadRequest, Code: code, Message: message}
}

func (e *apiError) Error() string { return e.Code }

// AbortWithError translates service errors into JSON error responses.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.status, errorBody(c, api.Code, api.Message))
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, tenantdomain.ErrAPIKeyInvalid),
		errors.Is(err, tenantdomain.ErrInvalidPassword):
		status, code = http.StatusUnauthorized, "unauthorized"

	case errors.Is(err, ErrTooManyRequests):
		status, code = http.StatusTooManyRequests, "too_many_requests"

	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		status, code = http.StatusPaymentRequired, "insufficient_credits"

	case errors.Is(err, meteringdomain.ErrUnknownActionKind):
		status, code = http.StatusBadRequest, "unknown_action_kind"

	case errors.Is(err, checkoutdomain.ErrProviderUnavailable),
		errors.Is(err, ErrServiceUnavailable):
		status, code = http.StatusServiceUnavailable, "provider_unavailable"

	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, checkoutdomain.ErrSessionNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, plandomain.ErrPackNotFound),
		errors.Is(err, plandomain.ErrPriceNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, autorefilldomain.ErrSettingsNotFound):
		status, code = http.StatusNotFound, "not_found"

	case errors.Is(err, tenantdomain.ErrSlugTaken):
		status, code = http.StatusConflict, "tenant_slug_taken"

	case errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidPlan),
		errors.Is(err, meteringdomain.ErrInvalidCost),
		errors.Is(err, checkoutdomain.ErrInvalidKind),
		errors.Is(err, checkoutdomain.ErrInvalidTarget),
		errors.Is(err, checkoutdomain.ErrInvalidStatus),
		errors.Is(err, checkoutdomain.ErrInvalidBillingCycle),
		errors.Is(err, plandomain.ErrInvalidInput),
		errors.Is(err, tenantdomain.ErrInvalidInput),
		errors.Is(err, autorefilldomain.ErrInvalidThreshold),
		errors.Is(err, autorefilldomain.ErrInvalidCap),
		errors.Is(err, autorefilldomain.ErrMissingPack):
		status, code = http.StatusBadRequest, err.Error()
	}

	message := code
	if status != http.StatusInternalServerError {
		message = err.Error()
	}
	c.AbortWithStatusJSON(status, errorBody(c, code, message))
}

func errorBody(c *gin.Context, code, message string) gin.H {
	body := gin.H{"code": code, "message": message}
	if requestID := obscontext.RequestIDFromGin(c); requestID != "" {
		body["request_id"] = requestID
	}
	return body
}
