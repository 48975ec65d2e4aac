package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chii/internal/models"
	"chii/internal/ratelimit"
	"chii/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsServer(t *testing.T) {
	ms := NewMetricsServer(9090, "/metrics", nil)
	require.NotNil(t, ms)
	assert.Equal(t, ":9090", ms.server.Addr)
}

func TestMetricsServer_ServesLimiterMetrics(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{ServiceName: "chii-test"}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	limiter, err := NewInstrumentedLimiter(ratelimit.NewStore())
	require.NoError(t, err)
	limit := ratelimit.MustRateLimit(1, time.Minute)
	limiter.Update("10.0.0.1@/", limit)
	limiter.Update("10.0.0.1@/", limit)

	ms := NewMetricsServer(metrics.Port, metrics.Path, provider)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ratelimit_decisions")
	assert.Contains(t, string(body), `outcome="rejected"`)
}

func TestMetricsServer_NilProviderServesNotFound(t *testing.T) {
	ms := NewMetricsServer(9090, "/metrics", nil)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ms.Shutdown(ctx))

	assert.Equal(t, http.ErrServerClosed, <-errCh)
}
