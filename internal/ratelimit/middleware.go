package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"chii/internal/models"

	"github.com/gorilla/mux"
)

// RejectionMessage is the human-readable body sent with a 429.
const RejectionMessage = "You are requesting too fast. Slow down!"

type userKey struct{}

// WithUser stores an authenticated user identity in ctx for BucketUser rules.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the identity stored by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

// Rule binds a limit to a throttled route.
type Rule struct {
	// Name identifies the rule in logs and metrics.
	Name   string
	Limit  RateLimit
	Bucket Bucket
	// Exempt, when set and returning true, lets the request through
	// without touching the limiter.
	Exempt func(*http.Request) bool
}

// ThrottleOption configures a Throttler.
type ThrottleOption func(*Throttler)

// WithUserResolver overrides how BucketUser rules find the caller identity.
func WithUserResolver(fn func(*http.Request) string) ThrottleOption {
	return func(t *Throttler) {
		if fn != nil {
			t.userOf = fn
		}
	}
}

// WithRouteResolver overrides how the route half of the key is derived.
func WithRouteResolver(fn func(*http.Request) string) ThrottleOption {
	return func(t *Throttler) {
		if fn != nil {
			t.routeOf = fn
		}
	}
}

// WithLoopbackThrottled applies limits to loopback clients too. By default
// requests from 127.0.0.1 and ::1 are never throttled.
func WithLoopbackThrottled() ThrottleOption {
	return func(t *Throttler) {
		t.throttleLoopback = true
	}
}

// WithTrustedHops sets how many reverse proxies in front of the server
// append to X-Forwarded-For. Zero, the default, keys on the peer address.
func WithTrustedHops(n int) ThrottleOption {
	return func(t *Throttler) {
		if n > 0 {
			t.trustedHops = n
		}
	}
}

// Throttler composes limiter keys from requests and answers rejected
// requests with 429 Too Many Requests.
type Throttler struct {
	limiter          Limiter
	userOf           func(*http.Request) string
	routeOf          func(*http.Request) string
	throttleLoopback bool
	trustedHops      int
}

// NewThrottler creates a Throttler over limiter.
func NewThrottler(limiter Limiter, opts ...ThrottleOption) *Throttler {
	t := &Throttler{
		limiter: limiter,
		userOf:  contextUser,
		routeOf: routeTemplate,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key returns the limiter key for r under rule. The second result is false
// when the request is exempt and must not be counted.
func (t *Throttler) Key(r *http.Request, rule Rule) (string, bool) {
	if rule.Exempt != nil && rule.Exempt(r) {
		return "", false
	}

	ip := ClientIPWithHops(r, t.trustedHops)
	// Only a loopback connection is exempt; forwarded addresses are not.
	if !t.throttleLoopback && IsLoopback(PeerIP(r)) && IsLoopback(ip) {
		return "", false
	}

	client := ip
	if rule.Bucket == BucketUser {
		if user := t.userOf(r); user != "" {
			client = "user:" + user
		}
	}
	return FormatKey(client, t.routeOf(r)), true
}

// Allow runs the limiter for r. When the request is rejected it writes the
// 429 response and returns false; the caller must not write anything else.
func (t *Throttler) Allow(w http.ResponseWriter, r *http.Request, rule Rule) bool {
	key, counted := t.Key(r, rule)
	if !counted {
		return true
	}

	decision := t.limiter.Update(key, rule.Limit)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit.Rate()))
	if decision.Admitted {
		return true
	}

	WriteRejection(w, decision)

	slog.Warn("Rate limit exceeded",
		"rule", rule.Name,
		"key", key,
		"limit", rule.Limit.String(),
		"retry_after", decision.RetryAfterSeconds(),
	)
	return false
}

// Middleware returns HTTP middleware enforcing rule.
func (t *Throttler) Middleware(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Allow(w, r, rule) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware returns HTTP middleware that enforces rule using limiter with
// default key composition.
func Middleware(limiter Limiter, rule Rule) func(http.Handler) http.Handler {
	return NewThrottler(limiter).Middleware(rule)
}

// WriteRejection writes the standard 429 response for decision.
func WriteRejection(w http.ResponseWriter, decision Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterHeader()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResp := models.NewErrorResponse(RejectionMessage, models.ErrorCodeRateLimited)
	errorResp.Details = map[string]string{
		"retry_after": strconv.FormatFloat(decision.RetryAfterSeconds(), 'f', 3, 64),
	}
	json.NewEncoder(w).Encode(errorResp)
}

// contextUser reads the identity set by WithUser.
func contextUser(r *http.Request) string {
	user, _ := UserFromContext(r.Context())
	return user
}

// routeTemplate returns the matched mux path template so every value of a
// path variable shares one key, falling back to the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
