package checkout

import (
	"go.uber.org/fx"

	"github.com/veracify/veracify/internal/checkout/poller"
	"github.com/veracify/veracify/internal/checkout/service"
	"github.com/veracify/veracify/internal/checkout/stripe"
)

var Module = fx.Module("checkout.service",
	fx.Provide(
		stripe.NewProvider,
		service.NewService,
		poller.NewPoller,
	),
)
