package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	"github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/observability/logger"
	"github.com/veracify/veracify/internal/observability/metrics"
	"github.com/veracify/veracify/internal/observability/tracing"
)

const serviceName = "veracify"

var version = "dev"

// Module wires the logger, tracer provider, and metric instruments.
var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(func(cfg config.Config) tracing.Config {
		return tracing.Config{
			Enabled:          cfg.TracingEnabled,
			ServiceName:      serviceName,
			ServiceVersion:   version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.TracingExporterEndpoint,
			ExporterProtocol: cfg.TracingExporterProtocol,
			SamplingRatio:    cfg.TracingSamplingRatio,
		}
	}),
	// Invoke, not Provide: nothing injects the tracer provider, it
	// installs itself globally via otel.SetTracerProvider.
	fx.Invoke(tracing.NewProvider),
	fx.Provide(func(cfg config.Config) metrics.Config {
		return metrics.Config{
			ServiceName: serviceName,
			Environment: cfg.Environment,
		}
	}),
	fx.Provide(func() metric.MeterProvider {
		return otel.GetMeterProvider()
	}),
	fx.Provide(metrics.NewHTTPMetrics),
	fx.Provide(metrics.BillingWithConfig),
)
