package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestReaper_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store, clock := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())

	store.StartReaper(ctx, 5*time.Millisecond)
	store.Update("k", MustRateLimit(1, time.Second))
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return store.Size() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	store.Close()
}

func TestReaper_TokenBucketNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tb := NewTokenBucket()
	tb.StartReaper(context.Background(), time.Millisecond)
	tb.Close()
	tb.Close()
}

func TestReaper_StopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newReaper()
	r.stop()
	r.stop()
}

func TestReaper_RunsSweepOnTick(t *testing.T) {
	r := newReaper()
	defer r.stop()

	swept := make(chan struct{}, 1)
	r.start(context.Background(), time.Millisecond, func() int {
		select {
		case swept <- struct{}{}:
		default:
		}
		return 1
	}, func() int { return 0 })

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("reaper never swept")
	}
}
