// Package server exposes the billing API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	autorefilldomain "github.com/veracify/veracify/internal/autorefill/domain"
	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/checkout/poller"
	appconfig "github.com/veracify/veracify/internal/config"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
	meteringdomain "github.com/veracify/veracify/internal/metering/domain"
	"github.com/veracify/veracify/internal/observability/logger"
	"github.com/veracify/veracify/internal/observability/metrics"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	tenantdomain "github.com/veracify/veracify/internal/tenant/domain"
)

type Params struct {
	fx.In

	Config   appconfig.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Ledger   ledgerdomain.Service
	Metering meteringdomain.Service
	Plans    plandomain.Service
	Refills  autorefilldomain.Service
	Checkout checkoutdomain.Service
	Poller   *poller.Poller
	Tenants  tenantdomain.Service
}

// Server holds handler dependencies.
type Server struct {
	cfg      appconfig.Config
	db       *gorm.DB
	log      *zap.Logger
	ledger   ledgerdomain.Service
	metering meteringdomain.Service
	plans    plandomain.Service
	refills  autorefilldomain.Service
	checkout checkoutdomain.Service
	poller   *poller.Poller
	tenants  tenantdomain.Service
	limiter  *rateLimiter
}

func NewServer(p Params) *Server {
	limit := p.Config.RateLimitPerMinute
	if limit <= 0 {
		limit = 300
	}
	return &Server{
		cfg:      p.Config,
		db:       p.DB,
		log:      p.Log.Named("server"),
		ledger:   p.Ledger,
		metering: p.Metering,
		plans:    p.Plans,
		refills:  p.Refills,
		checkout: p.Checkout,
		poller:   p.Poller,
		tenants:  p.Tenants,
		limiter:  newRateLimiter(limit, time.Minute),
	}
}

// NewEngine builds the gin engine with the standard middleware chain.
func NewEngine(cfg appconfig.Config, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(httpMetrics))
	return engine
}

// RegisterRoutes mounts all API routes.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", s.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/api/tenants", s.ProvisionTenant)
	engine.POST("/api/webhooks/stripe", s.StripeWebhook)

	api := engine.Group("/api", s.APIKeyRequired(), s.RateLimited())
	{
		api.GET("/credits/balance", s.GetBalance)
		api.GET("/credits/packs", s.ListPacks)
		api.POST("/credits/purchase", s.PurchaseCredits)
		api.GET("/credits/usage", s.GetUsage)
		api.GET("/credits/history", s.GetHistory)
		api.POST("/usage/record", s.RecordUsage)

		api.GET("/credits/auto-refill/settings", s.GetAutoRefillSettings)
		api.PUT("/credits/auto-refill/settings", s.UpdateAutoRefillSettings)

		api.GET("/plans", s.ListPlans)
		api.POST("/subscriptions/checkout", s.SubscriptionCheckout)

		api.GET("/payments/checkout/status/:session_id", s.CheckoutStatus)
		api.POST("/payments/checkout/confirm/:session_id", s.ConfirmCheckout)
		api.POST("/payments/checkout/cancel/:session_id", s.CancelCheckout)
	}
}

// Health reports process liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Module wires the HTTP server into the fx application.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

// RunHTTP starts the listener with the application lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg appconfig.Config, log *zap.Logger, srv *Server, httpMetrics *metrics.HTTPMetrics) {
	engine := NewEngine(cfg, httpMetrics)
	srv.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}
