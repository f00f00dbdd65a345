package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripeapi "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
)

const maxWebhookBody = 64 * 1024

// StripeWebhook resolves checkout sessions from provider events. It is
// the fast path; the status poller covers missed or delayed deliveries.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, newValidationError("invalid_payload", "unreadable webhook body"))
		return
	}

	event, err := stripewebhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), s.cfg.StripeWebhookSecret)
	if err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		AbortWithError(c, ErrUnauthorized)
		return
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			AbortWithError(c, newValidationError("invalid_payload", "malformed checkout session"))
			return
		}

		status := checkoutdomain.MapProviderState(checkoutdomain.ProviderState{
			Status:        string(session.Status),
			PaymentStatus: string(session.PaymentStatus),
		})
		if !status.Terminal() {
			break
		}

		if _, err := s.checkout.Resolve(c.Request.Context(), session.ID, status); err != nil {
			// Unknown sessions are fine: another deployment may own them.
			if !errors.Is(err, checkoutdomain.ErrSessionNotFound) {
				AbortWithError(c, err)
				return
			}
		}

	default:
		s.log.Debug("ignoring webhook event", zap.String("type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
