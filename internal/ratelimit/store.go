package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry holds the theoretical arrival time for a key and the limit that
// produced it. The limit is kept only so the sweep can judge staleness.
type entry struct {
	tat   time.Time
	limit RateLimit
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source. Used by tests to simulate time.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is an in-memory GCRA limiter. Every Update runs its lookup, sweep,
// decision and write under a single mutex, so concurrent callers for the
// same key can never both admit from the same stale TAT.
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry

	reaper *reaper
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:     time.Now,
		entries: make(map[string]entry),
		reaper:  newReaper(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update admits or rejects one event for key under limit.
//
// A rejected call leaves the stored TAT untouched and reports, as
// RetryAfter, how far the separation exceeds the burst tolerance: waiting
// that long makes the same call admissible.
func (s *Store) Update(key string, limit RateLimit) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	tat := now
	if e, ok := s.entries[key]; ok && e.tat.After(now) {
		tat = e.tat
	}

	s.sweepLocked(now)

	separation := tat.Sub(now)
	maxInterval := limit.BurstTolerance()

	if separation > maxInterval {
		return Rejected(separation - maxInterval)
	}

	s.entries[key] = entry{
		tat:   tat.Add(limit.Inverse()),
		limit: limit,
	}
	return Admitted()
}

// Peek returns the stored TAT for key without modifying anything.
func (s *Store) Peek(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.tat, ok
}

// Reset forgets key, restoring its full burst allowance.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Size returns the number of tracked keys.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reap runs an expiry sweep immediately and returns how many keys it removed.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// sweepLocked deletes every entry whose TAT lies more than its period plus
// ExpiryGrace in the past. Callers must hold s.mu.
func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.tat) > e.limit.Period()+ExpiryGrace {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartReaper sweeps the store every interval until ctx is cancelled or
// Close is called. Sweeping inside Update already bounds memory under
// traffic; the reaper keeps idle stores from holding expired keys.
func (s *Store) StartReaper(ctx context.Context, interval time.Duration) {
	s.reaper.start(ctx, interval, s.Reap, s.Size)
}

// Close stops the reaper, if running, and waits for it to exit. Safe to call
// multiple times.
func (s *Store) Close() {
	s.reaper.stop()
}

var _ Limiter = (*Store)(nil)
