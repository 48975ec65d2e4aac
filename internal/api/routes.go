package api

import (
	"net/http"

	"chii/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	if config.Security.APIRule != "" {
		api.Use(ruleThrottle(handlers, config.Security.APIRule))
	}

	api.HandleFunc("/rules", handlers.ListRules).Methods("GET")
	api.HandleFunc("/rules/{name}", handlers.GetRule).Methods("GET")
	api.HandleFunc("/rules/{name}/check", handlers.CheckRule).Methods("POST")
	api.HandleFunc("/throttle/{name}", handlers.Throttle).Methods("POST")

	adminAPI := api.PathPrefix("/rules").Subrouter()
	if config.Security.EnableAuth {
		adminAPI.Use(adminAuth(config.Security.AdminToken))
	}
	adminAPI.HandleFunc("/{name}", handlers.SaveRule).Methods("PUT")
	adminAPI.HandleFunc("/{name}", handlers.DeleteRule).Methods("DELETE")

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
	})

	return router
}
