package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultMetricsInterval is how often the OTLP reader pushes metrics
const DefaultMetricsInterval = 60 * time.Second

// MeterProviderOption configures NewMeterProvider
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	serviceName    string
	serviceVersion string
	metricsConfig  *MetricsConfig
	endpoint       string
	insecure       bool
	interval       time.Duration
	registerer     prometheus.Registerer
}

// WithMeterServiceName sets the service.name resource attribute
func WithMeterServiceName(name string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceName = name
	}
}

// WithMeterServiceVersion sets the service.version resource attribute
func WithMeterServiceVersion(version string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithMetricsConfig sets the metrics section; nil or disabled yields a no-op provider
func WithMetricsConfig(mc *MetricsConfig) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.metricsConfig = mc
	}
}

// WithMeterEndpoint sets the OTLP collector address
func WithMeterEndpoint(endpoint string) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithMeterInsecure disables TLS towards the collector
func WithMeterInsecure(insecure bool) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.insecure = insecure
	}
}

// WithMeterInterval overrides the OTLP push interval
func WithMeterInterval(interval time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.interval = interval
	}
}

// WithPrometheusRegisterer sets where the Prometheus exporter registers its collector.
// Required when the exporter is "prometheus".
func WithPrometheusRegisterer(reg prometheus.Registerer) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.registerer = reg
	}
}

// NewMeterProvider builds an SDK meter provider backed by either a periodic
// OTLP reader or a Prometheus pull reader, and installs it globally.
// The caller owns shutdown of the returned provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
		interval:       DefaultMetricsInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.metricsConfig == nil || !cfg.metricsConfig.Enabled {
		slog.Info("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	var reader sdkmetric.Reader
	switch exporter := cfg.metricsConfig.GetExporter(); exporter {
	case ExporterPrometheus:
		if cfg.registerer == nil {
			return nil, fmt.Errorf("prometheus exporter requires a registerer")
		}
		promExporter, err := otelprom.New(otelprom.WithRegisterer(cfg.registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		reader = promExporter
	case ExporterOTLP:
		exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.endpoint)}
		if cfg.insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		otlpExporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(cfg.interval))
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"exporter", cfg.metricsConfig.GetExporter(),
		"endpoint", cfg.endpoint,
	)

	return mp, nil
}
