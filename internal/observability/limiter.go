package observability

import (
	"context"

	"chii/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedLimiter counts admission decisions and records the retry-after
// hint handed to rejected callers. Keys are never used as attributes.
type InstrumentedLimiter struct {
	inner      ratelimit.Limiter
	decisions  metric.Int64Counter
	retryAfter metric.Float64Histogram
}

// NewInstrumentedLimiter wraps inner with decision metrics.
func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	meter := otel.Meter("chii/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of admission decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	retryAfter, err := meter.Float64Histogram(
		"ratelimit.retry_after",
		metric.WithDescription("Retry-after hint returned with rejections in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{
		inner:      inner,
		decisions:  decisions,
		retryAfter: retryAfter,
	}, nil
}

// Update runs the wrapped limiter and records the decision.
func (l *InstrumentedLimiter) Update(key string, limit ratelimit.RateLimit) ratelimit.Decision {
	d := l.inner.Update(key, limit)

	ctx := context.Background()
	outcome := "admitted"
	if !d.Admitted {
		outcome = "rejected"
		l.retryAfter.Record(ctx, d.RetryAfterSeconds())
	}
	l.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("limit", limit.String()),
	))
	return d
}

// Unwrap returns the wrapped limiter.
func (l *InstrumentedLimiter) Unwrap() ratelimit.Limiter {
	return l.inner
}

var _ ratelimit.Limiter = (*InstrumentedLimiter)(nil)
