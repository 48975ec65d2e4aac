package observability

import (
	"context"
	"errors"
	"time"

	"chii/internal/models"
	"chii/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every rule operation.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("chii/storage")
	meter := otel.Meter("chii/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of rule storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of rule storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

// record ends the span and records latency. A missing rule is an expected
// outcome and is not counted as an error.
func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrRuleNotFound):
		span.SetAttributes(attribute.Bool("rule.found", false))
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func (s *InstrumentedStorage) Rules(ctx context.Context) ([]*models.LimitRule, error) {
	ctx, span := s.startSpan(ctx, "Rules")
	start := time.Now()
	result, err := s.inner.Rules(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("rule.count", len(result)))
	}
	s.record(ctx, span, "Rules", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetRule(ctx context.Context, name string) (*models.LimitRule, error) {
	ctx, span := s.startSpan(ctx, "GetRule", attribute.String("rule.name", name))
	start := time.Now()
	result, err := s.inner.GetRule(ctx, name)
	s.record(ctx, span, "GetRule", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveRule(ctx context.Context, rule *models.LimitRule) error {
	ctx, span := s.startSpan(ctx, "SaveRule",
		attribute.String("rule.name", rule.Name),
		attribute.Int("rule.rate", rule.Rate),
		attribute.Int("rule.per", rule.PerSeconds),
	)
	start := time.Now()
	err := s.inner.SaveRule(ctx, rule)
	s.record(ctx, span, "SaveRule", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteRule(ctx context.Context, name string) error {
	ctx, span := s.startSpan(ctx, "DeleteRule", attribute.String("rule.name", name))
	start := time.Now()
	err := s.inner.DeleteRule(ctx, name)
	s.record(ctx, span, "DeleteRule", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

var _ storage.Storage = (*InstrumentedStorage)(nil)
