package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chii/internal/models"
	"chii/internal/ratelimit"
	"chii/internal/storage"
	"chii/internal/version"

	"github.com/gorilla/mux"
)

// maxBodyBytes caps request bodies on the rules API.
const maxBodyBytes = 64 << 10

// Handlers contains HTTP handlers for the rules and admission API
type Handlers struct {
	storage   storage.Storage
	limiter   ratelimit.Limiter
	throttler *ratelimit.Throttler
	// byPath keys throttle calls on the concrete path so each rule name
	// gets its own key.
	byPath  *ratelimit.Throttler
	tracked func() int
	version version.Info
	started time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithTrackedKeys reports the limiter's live key count on the health endpoint.
func WithTrackedKeys(fn func() int) HandlerOption {
	return func(h *Handlers) {
		h.tracked = fn
	}
}

// WithVersion sets the build info reported on the health endpoint.
func WithVersion(ver version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = ver
	}
}

// WithThrottleOptions passes options to the request throttlers.
func WithThrottleOptions(opts ...ratelimit.ThrottleOption) HandlerOption {
	return func(h *Handlers) {
		h.throttler = ratelimit.NewThrottler(h.limiter, opts...)
		pathOpts := append([]ratelimit.ThrottleOption{}, opts...)
		h.byPath = ratelimit.NewThrottler(h.limiter, append(pathOpts, ratelimit.WithRouteResolver(requestPath))...)
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Storage, limiter ratelimit.Limiter, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		storage: store,
		limiter: limiter,
		started: time.Now(),
	}
	WithThrottleOptions()(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Truncate(time.Second).String()

	status := http.StatusOK
	if err := h.storage.Ping(r.Context()); err != nil {
		slog.Error("Storage health check failed", "error", err)
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
		status = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	response.AddComponent("limiter", models.StatusHealthy, "Limiter is operational")

	if h.tracked != nil {
		response.AddMetric("tracked_keys", h.tracked())
	}

	h.writeJSONResponse(w, status, response)
}

// ListRules handles rule list requests
// GET /api/v1/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.storage.Rules(r.Context())
	if err != nil {
		slog.Error("Failed to list rules", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list rules")
		return
	}

	response := models.ListRulesResponse{
		Rules:      make([]models.RuleResponse, len(rules)),
		TotalCount: len(rules),
	}
	for i, rule := range rules {
		response.Rules[i].FromRule(rule)
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetRule handles single rule requests
// GET /api/v1/rules/{name}
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	var response models.RuleResponse
	response.FromRule(rule)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// SaveRule creates or replaces a rule
// PUT /api/v1/rules/{name}
func (h *Handlers) SaveRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req models.SaveRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	rule := req.ToRule(name)
	if _, err := toLimiterRule(rule); err != nil {
		code := models.ErrorCodeValidation
		if errors.Is(err, ratelimit.ErrInvalidLimit) {
			code = models.ErrorCodeInvalidLimit
		}
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, code, err.Error())
		return
	}
	if err := rule.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeValidation, err.Error())
		return
	}

	status := http.StatusOK
	message := "Rule updated"
	if _, err := h.storage.GetRule(r.Context(), name); errors.Is(err, storage.ErrRuleNotFound) {
		status = http.StatusCreated
		message = "Rule created"
	}

	if err := h.storage.SaveRule(r.Context(), rule); err != nil {
		slog.Error("Failed to save rule", "rule", name, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to save rule")
		return
	}

	slog.Info("Limit rule saved", "rule", name, "rate", rule.Rate, "per", rule.PerSeconds, "bucket", rule.Bucket)
	h.writeJSONResponse(w, status, models.SaveRuleResponse{
		Name:      name,
		Message:   message,
		UpdatedAt: rule.UpdatedAt,
	})
}

// DeleteRule removes a rule
// DELETE /api/v1/rules/{name}
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.storage.DeleteRule(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeRuleNotFound, "Rule not found: "+name)
			return
		}
		slog.Error("Failed to delete rule", "rule", name, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to delete rule")
		return
	}

	slog.Info("Limit rule deleted", "rule", name)
	h.writeJSONResponse(w, http.StatusOK, models.DeleteRuleResponse{
		Name:    name,
		Message: "Rule deleted",
	})
}

// CheckRule runs one admission for a caller-supplied key under a rule.
// POST /api/v1/rules/{name}/check
func (h *Handlers) CheckRule(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	limiterRule, err := toLimiterRule(rule)
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeInvalidLimit, err.Error())
		return
	}

	decision := h.limiter.Update(checkKey(rule.Name, req.Key), limiterRule.Limit)

	response := models.CheckResponse{
		Admitted: decision.Admitted,
		Rule:     rule.Name,
		Key:      req.Key,
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Rate))
	if decision.Admitted {
		h.writeJSONResponse(w, http.StatusOK, response)
		return
	}

	response.RetryAfter = decision.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterHeader()))
	h.writeJSONResponse(w, http.StatusTooManyRequests, response)
}

// Throttle counts the calling client against a rule.
// POST /api/v1/throttle/{name}
func (h *Handlers) Throttle(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	limiterRule, err := toLimiterRule(rule)
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeInvalidLimit, err.Error())
		return
	}

	if !h.byPath.Allow(w, r, limiterRule) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadRule fetches the rule named in the path, writing a 404 or 500 on
// failure.
func (h *Handlers) loadRule(w http.ResponseWriter, r *http.Request) (*models.LimitRule, bool) {
	name := mux.Vars(r)["name"]

	rule, err := h.storage.GetRule(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrRuleNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeRuleNotFound, "Rule not found: "+name)
			return nil, false
		}
		slog.Error("Failed to load rule", "rule", name, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to load rule")
		return nil, false
	}
	return rule, true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// toLimiterRule converts a stored rule into the limiter's form.
func toLimiterRule(rule *models.LimitRule) (ratelimit.Rule, error) {
	limit, err := ratelimit.NewRateLimitSeconds(rule.Rate, rule.PerSeconds)
	if err != nil {
		return ratelimit.Rule{}, err
	}
	bucket, err := ratelimit.ParseBucket(rule.Bucket)
	if err != nil {
		return ratelimit.Rule{}, err
	}
	return ratelimit.Rule{Name: rule.Name, Limit: limit, Bucket: bucket}, nil
}

// checkKeyPrefix keeps /check keys apart from throttle keys, which start
// with an address or "user:".
const checkKeyPrefix = "check:"

// checkKey scopes a caller key to a rule so the same key checked against
// two rules never shares a TAT. Rule names cannot contain '/'.
func checkKey(rule, key string) string {
	return checkKeyPrefix + rule + "/" + key
}

func requestPath(r *http.Request) string {
	return r.URL.Path
}
