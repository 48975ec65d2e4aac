// Package ratelimit provides per-key admission control for HTTP requests using
// the Generic Cell Rate Algorithm (GCRA). Each key costs a single theoretical
// arrival time (TAT) of state, stale keys are swept lazily, and rejected calls
// carry a precise retry-after hint. It also includes HTTP middleware that
// composes keys from client identity and route and answers 429 on rejection.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidLimit is returned when a RateLimit is built from a non-positive
// rate or period.
var ErrInvalidLimit = errors.New("invalid rate limit")

// ExpiryGrace is added to a limit's period before an idle key is swept.
const ExpiryGrace = 60 * time.Second

// Limiter defines the admission contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Update decides whether an event for key is admitted under limit and, if
	// so, records it.
	Update(key string, limit RateLimit) Decision
}

// RateLimit is an immutable (rate, period) pair: rate events per period.
type RateLimit struct {
	rate   int
	period time.Duration
}

// NewRateLimit builds a limit permitting rate events per period.
func NewRateLimit(rate int, per time.Duration) (RateLimit, error) {
	if rate <= 0 {
		return RateLimit{}, fmt.Errorf("%w: rate must be positive, got %d", ErrInvalidLimit, rate)
	}
	if per <= 0 {
		return RateLimit{}, fmt.Errorf("%w: period must be positive, got %s", ErrInvalidLimit, per)
	}
	// A zero emission interval would never advance the TAT.
	if per/time.Duration(rate) == 0 {
		return RateLimit{}, fmt.Errorf("%w: rate %d exceeds one event per nanosecond over %s", ErrInvalidLimit, rate, per)
	}
	return RateLimit{rate: rate, period: per}, nil
}

// maxPerSeconds is the longest period in seconds a time.Duration can hold.
const maxPerSeconds = math.MaxInt64 / int64(time.Second)

// NewRateLimitSeconds builds a limit permitting rate events per perSeconds seconds.
func NewRateLimitSeconds(rate, perSeconds int) (RateLimit, error) {
	if perSeconds <= 0 {
		return RateLimit{}, fmt.Errorf("%w: period must be positive, got %ds", ErrInvalidLimit, perSeconds)
	}
	if int64(perSeconds) > maxPerSeconds {
		return RateLimit{}, fmt.Errorf("%w: period of %ds is too long", ErrInvalidLimit, perSeconds)
	}
	return NewRateLimit(rate, time.Duration(perSeconds)*time.Second)
}

// MustRateLimit is like NewRateLimit but panics on invalid input. Intended for
// package-level limits and tests.
func MustRateLimit(rate int, per time.Duration) RateLimit {
	l, err := NewRateLimit(rate, per)
	if err != nil {
		panic(err)
	}
	return l
}

// Rate returns the number of events permitted per period.
func (l RateLimit) Rate() int { return l.rate }

// Period returns the window the rate applies to.
func (l RateLimit) Period() time.Duration { return l.period }

// Inverse returns the emission interval: the minimum spacing between two
// consecutive admitted events.
func (l RateLimit) Inverse() time.Duration {
	return l.period / time.Duration(l.rate)
}

// BurstTolerance is the largest separation between TAT and now that still
// admits a new event.
func (l RateLimit) BurstTolerance() time.Duration {
	return l.period - l.Inverse()
}

// IsZero reports whether l was never constructed.
func (l RateLimit) IsZero() bool {
	return l.rate == 0 && l.period == 0
}

func (l RateLimit) String() string {
	return fmt.Sprintf("%d/%s", l.rate, l.period)
}

// Decision is the outcome of an Update call.
type Decision struct {
	// Admitted is true when the event was accepted and recorded.
	Admitted bool
	// RetryAfter is how much longer the caller must wait before the same
	// event would be admitted. Zero when admitted.
	RetryAfter time.Duration
}

// Admitted returns an admitting decision.
func Admitted() Decision {
	return Decision{Admitted: true}
}

// Rejected returns a rejecting decision with the given retry-after hint.
func Rejected(retryAfter time.Duration) Decision {
	return Decision{RetryAfter: retryAfter}
}

// RetryAfterSeconds returns the retry-after hint in fractional seconds.
func (d Decision) RetryAfterSeconds() float64 {
	return d.RetryAfter.Seconds()
}

// RetryAfterHeader returns the hint as whole seconds suitable for a
// Retry-After header. It rounds up and never returns less than 1 for a
// rejection.
func (d Decision) RetryAfterHeader() int {
	if d.Admitted {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
