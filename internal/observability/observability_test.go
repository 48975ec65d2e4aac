package observability

import (
	"context"
	"testing"

	"chii/internal/models"
	"chii/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_MetricsOnly(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{
		ServiceName: "chii-test",
		Tracing:     models.TracingConfig{Enabled: false},
	}

	provider, err := Setup(metrics, obs, version.Info{Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.promExporter)
	assert.NotNil(t, provider.Registry())
	assert.Nil(t, provider.tracerProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_TracingStdout(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: false}
	obs := models.ObservabilityConfig{
		ServiceName: "chii-test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	assert.NotNil(t, provider.tracerProvider)
	assert.Nil(t, provider.promExporter)
	assert.Nil(t, provider.Registry())

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_BothDisabled(t *testing.T) {
	provider, err := Setup(models.MetricsConfig{}, models.ObservabilityConfig{}, version.Info{})
	require.NoError(t, err)
	assert.Nil(t, provider.tracerProvider)
	assert.Nil(t, provider.meterProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_RepeatedMetricsSetup(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{ServiceName: "chii-test"}

	first, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	second, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer second.Shutdown(context.Background())

	assert.NotSame(t, first.Registry(), second.Registry())
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "chii-test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "zipkin",
			SampleRate: 1.0,
		},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"always", 1.0, sdktrace.AlwaysSample().Description()},
		{"above one", 2.0, sdktrace.AlwaysSample().Description()},
		{"never", 0, sdktrace.NeverSample().Description()},
		{"ratio", 0.25, sdktrace.TraceIDRatioBased(0.25).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samplerFor(tt.rate).Description())
		})
	}
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("CHII_ENVIRONMENT", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	assert.Equal(t, "development", getEnvironment())

	t.Setenv("DEPLOYMENT_ENV", "staging")
	assert.Equal(t, "staging", getEnvironment())

	t.Setenv("CHII_ENVIRONMENT", "production")
	assert.Equal(t, "production", getEnvironment())
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}
