// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// CheckResponse reports the outcome of an admission check.
//
// RetryAfter is fractional seconds and is only set for rejections: it is
// how much longer the caller must wait before the same check is admitted.
type CheckResponse struct {
	Admitted   bool    `json:"admitted"`
	Rule       string  `json:"rule"`
	Key        string  `json:"key"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

type RuleResponse struct {
	Name           string    `json:"name"`
	Rate           int       `json:"rate"`
	Per            int       `json:"per"`
	Bucket         string    `json:"bucket"`
	Description    string    `json:"description,omitempty"`
	EmissionMillis int64     `json:"emission_interval_ms"`
	BurstMillis    int64     `json:"burst_tolerance_ms"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ListRulesResponse struct {
	Rules      []RuleResponse `json:"rules"`
	TotalCount int            `json:"total_count"`
}

type SaveRuleResponse struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeleteRuleResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Consistent error structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Human-readable messages for user interfaces
// - Details map for field-specific errors and retry hints
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeRuleNotFound       = "RULE_NOT_FOUND"      // 404: Named rule doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInvalidLimit       = "INVALID_LIMIT"       // 422: Non-positive rate or period
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Admission rejected
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// FromRule fills a RuleResponse from a stored rule.
func (rr *RuleResponse) FromRule(rule *LimitRule) {
	rr.Name = rule.Name
	rr.Rate = rule.Rate
	rr.Per = rule.PerSeconds
	rr.Bucket = rule.Bucket
	rr.Description = rule.Description
	rr.CreatedAt = rule.CreatedAt
	rr.UpdatedAt = rule.UpdatedAt
	if rule.Rate > 0 {
		emission := rule.Period() / time.Duration(rule.Rate)
		rr.EmissionMillis = emission.Milliseconds()
		rr.BurstMillis = (rule.Period() - emission).Milliseconds()
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
