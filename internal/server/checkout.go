package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/checkout/poller"
)

type subscriptionCheckoutRequest struct {
	PackageID    string `json:"package_id" binding:"required"`
	BillingCycle string `json:"billing_cycle"`
	Currency     string `json:"currency"`
	OriginURL    string `json:"origin_url"`
}

// SubscriptionCheckout opens a checkout session for a plan change. The
// free plan resolves immediately without a provider round-trip.
func (s *Server) SubscriptionCheckout(c *gin.Context) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return
	}

	var req subscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("invalid_request", "package_id is required"))
		return
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	session, err := s.checkout.CreateSession(c.Request.Context(), account.ID, checkoutdomain.CreateSessionInput{
		Kind:         checkoutdomain.KindSubscriptionChange,
		TargetID:     req.PackageID,
		Currency:     req.Currency,
		BillingCycle: req.BillingCycle,
		OriginURL:    req.OriginURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// The free plan resolves without a redirect; url is empty then.
	c.JSON(http.StatusCreated, gin.H{
		"url":        session.CheckoutURL,
		"session_id": session.SessionID,
		"status":     session.Status,
	})
}

// CheckoutStatus performs a single provider status check.
func (s *Server) CheckoutStatus(c *gin.Context) {
	session, ok := s.sessionForTenant(c)
	if !ok {
		return
	}

	checked, err := s.checkout.CheckStatus(c.Request.Context(), session.SessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(checked))
}

// ConfirmCheckout polls the provider until the session settles or the
// attempt budget runs out. A timeout leaves the session pending.
func (s *Server) ConfirmCheckout(c *gin.Context) {
	session, ok := s.sessionForTenant(c)
	if !ok {
		return
	}

	outcome, polled, err := s.poller.Poll(c.Request.Context(), session.SessionID)
	if err != nil && outcome == poller.OutcomeError {
		AbortWithError(c, err)
		return
	}

	resp := statusResponse(polled)
	resp["outcome"] = string(outcome)
	c.JSON(http.StatusOK, resp)
}

// CancelCheckout abandons a pending session.
func (s *Server) CancelCheckout(c *gin.Context) {
	session, ok := s.sessionForTenant(c)
	if !ok {
		return
	}

	cancelled, err := s.checkout.Cancel(c.Request.Context(), session.SessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(cancelled))
}

// sessionForTenant loads the session in the path and verifies it belongs
// to the authenticated tenant. On failure the response is already written.
func (s *Server) sessionForTenant(c *gin.Context) (*checkoutdomain.Session, bool) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		return nil, false
	}

	session, err := s.checkout.Session(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}

	account, err := s.ledger.AccountByTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if session.AccountID != account.ID {
		AbortWithError(c, checkoutdomain.ErrSessionNotFound)
		return nil, false
	}
	return session, true
}

// statusResponse speaks the provider vocabulary polled by clients:
// status open|complete|expired, payment_status paid|unpaid.
func statusResponse(session *checkoutdomain.Session) gin.H {
	payment := "unpaid"
	state := "open"
	switch session.Status {
	case checkoutdomain.StatusPaid:
		payment, state = "paid", "complete"
	case checkoutdomain.StatusExpired, checkoutdomain.StatusCancelled, checkoutdomain.StatusError:
		state = "expired"
	}
	return gin.H{
		"session_id":     session.SessionID,
		"status":         state,
		"payment_status": payment,
		"session_status": session.Status,
	}
}
