package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chii/internal/api"
	"chii/internal/config"
	"chii/internal/models"
	"chii/internal/observability"
	"chii/internal/ratelimit"
	"chii/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that run the whole service end-to-end: YAML config,
// SQLite rule storage, the GCRA store and the HTTP API.

const adminToken = "integration-token"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	server *httptest.Server
	clock  *testClock
	store  *ratelimit.Store
	dbPath string
}

func writeConfig(t *testing.T, dir, dbPath string) string {
	t.Helper()
	configPath := filepath.Join(dir, "chii.yaml")
	content := `
server:
  port: 8080
  host: 127.0.0.1
storage:
  type: sqlite
  database:
    dsn: ` + dbPath + `
limiter:
  algorithm: gcra
  trusted_hops: 1
limits:
  create:
    rate: 2
    per: 10
    bucket: ip
    description: link creation
  api:
    rate: 100
    per: 60
security:
  enable_auth: true
  admin_token: ` + adminToken + `
  api_rule: api
logging:
  level: error
  format: json
  output: stderr
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return configPath
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rules.db")

	cfg, err := config.Load(writeConfig(t, dir, dbPath))
	require.NoError(t, err)

	rules, err := storage.NewFactory().Create(cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { rules.Close() })

	instrumentedRules, err := observability.NewInstrumentedStorage(rules)
	require.NoError(t, err)

	seeded, err := storage.Seed(context.Background(), instrumentedRules, cfg.Limits)
	require.NoError(t, err)
	require.Equal(t, 2, seeded)

	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := ratelimit.NewStore(ratelimit.WithClock(clock.Now))
	t.Cleanup(store.Close)

	limiter, err := observability.NewInstrumentedLimiter(store)
	require.NoError(t, err)

	handlers := api.NewHandlers(instrumentedRules, limiter,
		api.WithTrackedKeys(store.Size),
		api.WithThrottleOptions(ratelimit.WithTrustedHops(cfg.Limiter.TrustedHops)),
	)
	server := httptest.NewServer(api.SetupRoutes(handlers, cfg))
	t.Cleanup(server.Close)

	return &testEnv{server: server, clock: clock, store: store, dbPath: dbPath}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func from(ip string) map[string]string {
	return map[string]string{"X-Forwarded-For": ip}
}

func asAdmin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

func TestIntegration_ThrottleFlow(t *testing.T) {
	env := setup(t)
	client := from("203.0.113.9")

	// Step 1: the configured rules are seeded
	resp := env.do(t, http.MethodGet, "/api/v1/rules", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.ListRulesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 2, list.TotalCount)
	assert.Equal(t, "api", list.Rules[0].Name)
	assert.Equal(t, "create", list.Rules[1].Name)

	// Step 2: the burst is admitted, the next call is rejected
	for i := 0; i < 2; i++ {
		resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))

	var rejection models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejection))
	assert.Equal(t, ratelimit.RejectionMessage, rejection.Message)
	assert.Equal(t, models.ErrorCodeRateLimited, rejection.Code)

	// Step 3: another client is unaffected
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, from("203.0.113.10"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Step 4: waiting out Retry-After admits again
	env.clock.Advance(5 * time.Second)
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Step 5: the health endpoint reports the tracked keys: one throttle key
	// and one API rule key per client
	resp = env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Equal(t, float64(4), health.Metrics["tracked_keys"])
}

func TestIntegration_RuleManagement(t *testing.T) {
	env := setup(t)
	client := from("198.51.100.20")

	// Writes need the admin token
	resp := env.do(t, http.MethodPut, "/api/v1/rules/create", models.SaveRuleRequest{Rate: 100, Per: 10}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Exhaust the seeded limit
	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Raise the limit; the stored TAT carries over, so one more second of
	// slack is enough under the new burst tolerance.
	resp = env.do(t, http.MethodPut, "/api/v1/rules/create",
		models.SaveRuleRequest{Rate: 100, Per: 10, Description: "raised"}, asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.clock.Advance(time.Second)
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/create", nil, client)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))

	// Create a new rule and check an opaque key against it
	resp = env.do(t, http.MethodPut, "/api/v1/rules/login",
		models.SaveRuleRequest{Rate: 1, Per: 60, Bucket: "user"}, asAdmin())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/rules/login/check", models.CheckRequest{Key: "alice"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/rules/login/check", models.CheckRequest{Key: "alice"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var check models.CheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&check))
	assert.False(t, check.Admitted)
	assert.InDelta(t, 60.0, check.RetryAfter, 0.001)

	// Delete it
	resp = env.do(t, http.MethodDelete, "/api/v1/rules/login", nil, asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/throttle/login", nil, client)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_APIRuleThrottlesTheAPI(t *testing.T) {
	env := setup(t)

	resp := env.do(t, http.MethodPut, "/api/v1/rules/api",
		models.SaveRuleRequest{Rate: 1, Per: 60}, asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	client := from("192.0.2.77")
	resp = env.do(t, http.MethodGet, "/api/v1/rules", nil, client)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/v1/rules", nil, client)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	// Health is outside the API and never throttled
	resp = env.do(t, http.MethodGet, "/api/v1/health", nil, client)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_EditsSurviveReseed(t *testing.T) {
	env := setup(t)

	resp := env.do(t, http.MethodPut, "/api/v1/rules/create",
		models.SaveRuleRequest{Rate: 9, Per: 10}, asAdmin())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reopened, err := storage.NewSQLiteStorage(storage.Config{ConnectionString: env.dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	seeded, err := storage.Seed(context.Background(), reopened, models.NewDefaultConfig().Limits)
	require.NoError(t, err)
	assert.Equal(t, 1, seeded, "only redirect is new")

	rule, err := reopened.GetRule(context.Background(), "create")
	require.NoError(t, err)
	assert.Equal(t, 9, rule.Rate)
}
