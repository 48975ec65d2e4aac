package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket holds a token bucket and the limit it was built for.
type bucket struct {
	limiter  *rate.Limiter
	limit    RateLimit
	lastSeen time.Time
}

// TokenBucket is an alternative Limiter backed by golang.org/x/time/rate.
// Each key gets its own bucket refilled once per emission interval with a
// capacity of limit.Rate() tokens, which admits the same bursts as the GCRA
// Store. Idle buckets are dropped with the same period plus ExpiryGrace rule.
type TokenBucket struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	reaper *reaper
}

// NewTokenBucket creates an empty token-bucket limiter.
func NewTokenBucket(opts ...StoreOption) *TokenBucket {
	// Reuse the store options so WithClock works for both algorithms.
	cfg := &Store{now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &TokenBucket{
		now:     cfg.now,
		buckets: make(map[string]*bucket),
		reaper:  newReaper(),
	}
}

// Update admits or rejects one event for key under limit.
func (tb *TokenBucket) Update(key string, limit RateLimit) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.evictLocked(now)

	b, exists := tb.buckets[key]
	if !exists || b.limit != limit {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(limit.Inverse()), limit.Rate()),
			limit:   limit,
		}
		tb.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return Admitted()
	}

	// Time until the next token is available.
	reservation := b.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return Rejected(delay)
}

// Size returns the number of tracked keys.
func (tb *TokenBucket) Size() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// Reap drops idle buckets and returns how many were removed.
func (tb *TokenBucket) Reap() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.evictLocked(tb.now())
}

// StartReaper drops idle buckets every interval until ctx is cancelled or
// Close is called.
func (tb *TokenBucket) StartReaper(ctx context.Context, interval time.Duration) {
	tb.reaper.start(ctx, interval, tb.Reap, tb.Size)
}

// Close stops the reaper and waits for it to exit. Safe to call multiple times.
func (tb *TokenBucket) Close() {
	tb.reaper.stop()
}

func (tb *TokenBucket) evictLocked(now time.Time) int {
	removed := 0
	for key, b := range tb.buckets {
		if now.Sub(b.lastSeen) > b.limit.Period()+ExpiryGrace {
			delete(tb.buckets, key)
			removed++
		}
	}
	return removed
}

var _ Limiter = (*TokenBucket)(nil)
