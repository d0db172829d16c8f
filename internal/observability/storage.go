package observability

import (
	"context"
	"time"

	"ghostwall/internal/models"
	"ghostwall/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a storage.Store implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStore struct {
	inner    storage.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore creates a new store wrapper that records trace spans,
// operation latency histograms, and error counters for every store method call.
func NewInstrumentedStore(inner storage.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer(ScopeName + "/storage")
	meter := otel.Meter(ScopeName + "/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Append(ctx context.Context, record *models.VisitRecord) error {
	ctx, span := s.startSpan(ctx, "Append",
		attribute.String("visitor_type", string(record.VisitorType)),
	)
	start := time.Now()
	err := s.inner.Append(ctx, record)
	s.record(ctx, span, "Append", start, err)
	return err
}

func (s *InstrumentedStore) BeginVisit(ctx context.Context, record *models.VisitRecord) (bool, error) {
	ctx, span := s.startSpan(ctx, "BeginVisit", attribute.String("session_key", record.SessionKey))
	start := time.Now()
	created, err := s.inner.BeginVisit(ctx, record)
	span.SetAttributes(attribute.Bool("created", created))
	s.record(ctx, span, "BeginVisit", start, err)
	return created, err
}

func (s *InstrumentedStore) Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string, at time.Time) (*models.VisitRecord, bool, error) {
	ctx, span := s.startSpan(ctx, "Resolve",
		attribute.String("session_key", sessionKey),
		attribute.String("visitor_type", string(verdict)),
	)
	start := time.Now()
	record, ok, err := s.inner.Resolve(ctx, sessionKey, verdict, details, at)
	span.SetAttributes(attribute.Bool("resolved", ok))
	s.record(ctx, span, "Resolve", start, err)
	return record, ok, err
}

func (s *InstrumentedStore) Query(ctx context.Context, filter storage.Filter) ([]*models.VisitRecord, error) {
	ctx, span := s.startSpan(ctx, "Query",
		attribute.String("visitor_type", string(filter.Type)),
		attribute.Int("limit", filter.Limit),
	)
	start := time.Now()
	result, err := s.inner.Query(ctx, filter)
	s.record(ctx, span, "Query", start, err)
	return result, err
}

func (s *InstrumentedStore) PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error) {
	ctx, span := s.startSpan(ctx, "PendingBefore")
	start := time.Now()
	result, err := s.inner.PendingBefore(ctx, cutoff)
	span.SetAttributes(attribute.Int("pending", len(result)))
	s.record(ctx, span, "PendingBefore", start, err)
	return result, err
}

func (s *InstrumentedStore) Clear(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Clear")
	start := time.Now()
	err := s.inner.Clear(ctx)
	s.record(ctx, span, "Clear", start, err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
