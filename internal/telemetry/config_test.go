package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, ExporterOTLP, (&MetricsConfig{}).GetExporter())

	var nilMetrics *MetricsConfig
	assert.Equal(t, ExporterOTLP, nilMetrics.GetExporter())

	cfg = &Config{ServiceName: "collab-staging", ServiceVersion: "v1.4.0", Endpoint: "otel:4318"}
	assert.Equal(t, "collab-staging", cfg.GetServiceName())
	assert.Equal(t, "v1.4.0", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "nil config is valid",
			config: nil,
		},
		{
			name: "disabled config skips nested validation",
			config: &Config{
				Enabled: false,
				Tracing: &TracingConfig{Enabled: true, Sampling: 3},
			},
		},
		{
			name: "valid sampling and prometheus exporter",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 0.5},
				Metrics: &MetricsConfig{Enabled: true, Exporter: ExporterPrometheus},
			},
		},
		{
			name: "sampling above one",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			},
			wantErr: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name: "negative sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: -0.1},
			},
			wantErr: "tracing: sampling must be between",
		},
		{
			name: "unknown exporter",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
			wantErr: `metrics: exporter must be "otlp" or "prometheus", got "statsd"`,
		},
		{
			name: "unknown exporter ignored when metrics disabled",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: false, Exporter: "statsd"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
