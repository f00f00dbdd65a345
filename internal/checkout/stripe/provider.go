// Package stripe adapts the Stripe hosted checkout API to the checkout
// provider interface.
package stripe

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripepaymentintent "github.com/stripe/stripe-go/v82/paymentintent"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/observability/tracing"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// Provider talks to Stripe. The API call sites are function fields so
// tests can run without network access.
type Provider struct {
	log        *zap.Logger
	successURL string
	cancelURL  string

	createSession func(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	getSession    func(id string, params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	createIntent  func(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
}

func NewProvider(p Params) domain.Provider {
	stripeapi.Key = p.Config.StripeAPIKey
	stripeapi.SetHTTPClient(tracing.WrapHTTPClient(nil))
	return &Provider{
		log:           p.Log.Named("checkout.stripe"),
		successURL:    p.Config.CheckoutSuccessURL,
		cancelURL:     p.Config.CheckoutCancelURL,
		createSession: stripesession.New,
		getSession:    stripesession.Get,
		createIntent:  stripepaymentintent.New,
	}
}

func (p *Provider) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.ProviderSession, error) {
	successURL, cancelURL := p.successURL, p.cancelURL
	if req.OriginURL != "" {
		successURL = req.OriginURL + "?checkout=success"
		cancelURL = req.OriginURL + "?checkout=cancelled"
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		ClientReferenceID: stripeapi.String(req.Reference),
		SuccessURL:        stripeapi.String(successURL),
		CancelURL:         stripeapi.String(cancelURL),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Quantity: stripeapi.Int64(1),
				PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripeapi.String(req.Currency),
					UnitAmount: stripeapi.Int64(req.Amount),
					ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripeapi.String(req.Name),
					},
				},
			},
		},
		Metadata: map[string]string{
			"account_id": req.AccountID.String(),
			"kind":       req.Kind,
		},
	}
	params.Context = ctx

	session, err := p.createSession(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout create: %w", err)
	}
	return &domain.ProviderSession{ID: session.ID, URL: session.URL}, nil
}

func (p *Provider) SessionState(ctx context.Context, providerSessionID string) (*domain.ProviderState, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx

	session, err := p.getSession(providerSessionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout get: %w", err)
	}
	return &domain.ProviderState{
		Status:        strings.ToLower(string(session.Status)),
		PaymentStatus: strings.ToLower(string(session.PaymentStatus)),
	}, nil
}

func (p *Provider) ChargeSavedMethod(ctx context.Context, req domain.ChargeRequest) error {
	params := &stripeapi.PaymentIntentParams{
		Amount:      stripeapi.Int64(req.Amount),
		Currency:    stripeapi.String(req.Currency),
		Confirm:     stripeapi.Bool(true),
		OffSession:  stripeapi.Bool(true),
		Description: stripeapi.String(req.Reference),
		Metadata: map[string]string{
			"account_id": req.AccountID.String(),
			"reference":  req.Reference,
		},
	}
	params.Context = ctx

	intent, err := p.createIntent(params)
	if err != nil {
		return fmt.Errorf("stripe off-session charge: %w", err)
	}
	if intent.Status != stripeapi.PaymentIntentStatusSucceeded {
		return fmt.Errorf("stripe off-session charge status %s", intent.Status)
	}

	p.log.Info("off-session charge succeeded",
		zap.String("reference", req.Reference),
		zap.Int64("amount", req.Amount),
	)
	return nil
}
