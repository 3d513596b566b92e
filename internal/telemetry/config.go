// Package telemetry wires OpenTelemetry tracing and metrics for the collaboration server.
// Traces are exported over OTLP/HTTP; metrics go either to OTLP/HTTP or to a
// Prometheus scrape endpoint.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName identifies the server when no service name is configured
	DefaultServiceName = "notes-collab-api"

	// DefaultEndpoint is the OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05

	// ExporterOTLP pushes metrics to the OTLP collector
	ExporterOTLP = "otlp"

	// ExporterPrometheus exposes metrics on the /metrics scrape endpoint
	ExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled turns telemetry on; when false every provider is a no-op
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "notes-collab-api"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the build version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector in "host:port" form
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP data over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, between 0.0 and 1.0
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "otlp" (default) or "prometheus"
	Exporter string `yaml:"exporter,omitempty"`
}

// GetServiceName returns the configured service name or the default
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the configured service version or "unknown"
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the configured collector endpoint or the default
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio. An unset (zero) ratio means DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExporter returns the metrics exporter kind, defaulting to OTLP
func (c *MetricsConfig) GetExporter() string {
	if c == nil || c.Exporter == "" {
		return ExporterOTLP
	}
	return c.Exporter
}

// Validate checks the telemetry configuration. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the sampling ratio
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Sampling < 0 || c.Sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", c.Sampling)
	}
	return nil
}

// Validate checks the exporter kind
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	switch c.GetExporter() {
	case ExporterOTLP, ExporterPrometheus:
		return nil
	default:
		return fmt.Errorf("exporter must be %q or %q, got %q", ExporterOTLP, ExporterPrometheus, c.Exporter)
	}
}
