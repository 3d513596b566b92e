package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption configures NewTracerProvider
type TracerProviderOption func(*tracerProviderConfig)

type tracerProviderConfig struct {
	serviceName    string
	serviceVersion string
	tracingConfig  *TracingConfig
	endpoint       string
	insecure       bool
}

// WithTracerServiceName sets the service.name resource attribute
func WithTracerServiceName(name string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceName = name
	}
}

// WithTracerServiceVersion sets the service.version resource attribute
func WithTracerServiceVersion(version string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.serviceVersion = version
	}
}

// WithTracingConfig sets the tracing section; nil or disabled yields a no-op provider
func WithTracingConfig(tc *TracingConfig) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.tracingConfig = tc
	}
}

// WithTracerEndpoint sets the OTLP collector address
func WithTracerEndpoint(endpoint string) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.endpoint = endpoint
	}
}

// WithTracerInsecure disables TLS towards the collector
func WithTracerInsecure(insecure bool) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.insecure = insecure
	}
}

// NewTracerProvider builds a batching OTLP tracer provider and installs it
// together with the W3C propagators as the global provider.
// The caller owns shutdown of the returned provider.
func NewTracerProvider(ctx context.Context, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	cfg := &tracerProviderConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.tracingConfig == nil || !cfg.tracingConfig.Enabled {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	res, err := newResource(ctx, cfg.serviceName, cfg.serviceVersion)
	if err != nil {
		return nil, err
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.tracingConfig.GetSampling()))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.insecure {
		slog.Warn("Tracing exports over unencrypted HTTP; use only in development")
	}
	slog.Info("Tracing initialized",
		"endpoint", cfg.endpoint,
		"sampling_ratio", cfg.tracingConfig.GetSampling(),
	)

	return tp, nil
}

// newResource describes this process. resource.New is used instead of
// resource.Default to avoid schema URL conflicts.
func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
