package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chii/internal/models"
	"chii/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// adminUser is the identity attached to requests carrying the admin token.
const adminUser = "admin"

// adminAuth requires "Authorization: Bearer <token>" and marks the request
// as the admin user for user-bucketed rules.
func adminAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized))
				return
			}

			presented := authHeader[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("Rejected admin request", "path", r.URL.Path, "client_ip", ratelimit.ClientIP(r))
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid admin token", models.ErrorCodeUnauthorized))
				return
			}

			next.ServeHTTP(w, r.WithContext(ratelimit.WithUser(r.Context(), adminUser)))
		})
	}
}

// ruleThrottle throttles requests by the stored rule named name. The rule is
// looked up per request so edits through the API apply immediately. A
// missing or broken rule lets traffic through.
func ruleThrottle(h *Handlers, name string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, err := h.storage.GetRule(r.Context(), name)
			if err != nil {
				slog.Debug("API throttle rule unavailable", "rule", name, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			limiterRule, err := toLimiterRule(rule)
			if err != nil {
				slog.Warn("API throttle rule is invalid", "rule", name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !h.throttler.Allow(w, r, limiterRule) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestIDHeader carries the request ID; an incoming value is kept.
const requestIDHeader = "X-Request-ID"

// loggingMiddleware tags each request with an ID and logs it
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		slog.Info("HTTP request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"client_ip", ratelimit.ClientIP(r))
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
