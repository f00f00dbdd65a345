package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"file:veracify.db?_fk=1"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	TracingEnabled          bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingExporterEndpoint string  `env:"TRACING_EXPORTER_ENDPOINT"`
	TracingExporterProtocol string  `env:"TRACING_EXPORTER_PROTOCOL" envDefault:"grpc"`
	TracingSamplingRatio    float64 `env:"TRACING_SAMPLING_RATIO" envDefault:"0.1"`

	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"https://app.veracify.io/billing/success"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"https://app.veracify.io/billing/cancelled"`

	CheckoutPollInterval time.Duration `env:"CHECKOUT_POLL_INTERVAL" envDefault:"2s"`
	CheckoutPollAttempts int           `env:"CHECKOUT_POLL_ATTEMPTS" envDefault:"10"`

	RefillQueueSize int `env:"REFILL_QUEUE_SIZE" envDefault:"256"`

	CycleRolloverSpec string `env:"CYCLE_ROLLOVER_SPEC" envDefault:"@hourly"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"300"`

	SeedDefaultTenant bool `env:"SEED_DEFAULT_TENANT" envDefault:"true"`
}

// Load parses configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
