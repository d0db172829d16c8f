package observability

import (
	"context"

	"ghostwall/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the classification counters. A nil *Metrics records nothing.
type Metrics struct {
	verdicts    metric.Int64Counter
	denials     metric.Int64Counter
	storeFaults metric.Int64Counter
	sweeps      metric.Int64Counter
	swept       metric.Int64Counter
}

// NewMetrics registers the classification instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	verdicts, err := meter.Int64Counter(
		"ghostwall.visits.classified",
		metric.WithDescription("Visit records written, by visitor type and source"),
		metric.WithUnit("{visit}"),
	)
	if err != nil {
		return nil, err
	}

	denials, err := meter.Int64Counter(
		"ghostwall.filter.denials",
		metric.WithDescription("Requests denied by the inbound filter, by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	storeFaults, err := meter.Int64Counter(
		"ghostwall.store.faults",
		metric.WithDescription("Visit log writes dropped by the fail-open policy"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	sweeps, err := meter.Int64Counter(
		"ghostwall.sweeper.runs",
		metric.WithDescription("Completed sweeper passes"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	swept, err := meter.Int64Counter(
		"ghostwall.sweeper.visits",
		metric.WithDescription("Pending visits handled by the sweeper, by result"),
		metric.WithUnit("{visit}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		verdicts:    verdicts,
		denials:     denials,
		storeFaults: storeFaults,
		sweeps:      sweeps,
		swept:       swept,
	}, nil
}

// RecordVerdict counts a visit record written by source (filter, callback, sweeper).
func (m *Metrics) RecordVerdict(ctx context.Context, verdict models.VisitorType, source string) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("visitor_type", string(verdict)),
		attribute.String("source", source),
	))
}

// RecordDenial counts a filter denial by reason category.
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStoreFault counts a visit log write that failed and was skipped.
func (m *Metrics) RecordStoreFault(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.storeFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordSweep counts one sweeper pass and what it did.
func (m *Metrics) RecordSweep(ctx context.Context, resolved, missed, failed int) {
	if m == nil {
		return
	}
	m.sweeps.Add(ctx, 1)
	m.swept.Add(ctx, int64(resolved), metric.WithAttributes(attribute.String("result", "resolved")))
	m.swept.Add(ctx, int64(missed), metric.WithAttributes(attribute.String("result", "missed")))
	m.swept.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("result", "failed")))
}
