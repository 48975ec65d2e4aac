package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// reaper runs a periodic sweep in the background for a limiter.
type reaper struct {
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newReaper() *reaper {
	return &reaper{done: make(chan struct{})}
}

// start launches the sweep loop. A non-positive interval is a no-op.
func (r *reaper) start(ctx context.Context, interval time.Duration, reap func() int, size func() int) {
	if interval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				if n := reap(); n > 0 {
					slog.Debug("Rate limiter sweep completed",
						"removed_keys", n,
						"remaining_keys", size(),
					)
				}
			}
		}
	}()
}

// stop signals the loop to exit and waits for it.
func (r *reaper) stop() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
