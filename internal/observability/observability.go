// Package observability wires OpenTelemetry into ghostwall. Setup builds the
// tracer provider (stdout or OTLP) and a meter provider that exports to a
// private Prometheus registry, then registers the classification instruments
// on it. The visit store decorator in storage.go reports through the same
// providers.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"ghostwall/internal/models"
	"ghostwall/internal/version"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ScopeName is the instrumentation scope for every tracer and meter ghostwall creates.
const ScopeName = "ghostwall"

// gaugeTimeout bounds the store query behind the pending-visit gauges.
const gaugeTimeout = 2 * time.Second

// Provider owns the telemetry pipeline and the instruments built on it.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	metrics        *Metrics
}

// PendingLister lists provisional visits stamped before cutoff.
type PendingLister interface {
	PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error)
}

// Setup builds the providers described by cfg. Tracing and metrics are
// independent; with both disabled the Provider records nothing.
func Setup(cfg *models.Config, ver version.Info) (*Provider, error) {
	res, err := newResource(cfg, ver)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{}
	if cfg.Observability.Tracing.Enabled {
		tp, err := newTracerProvider(res, cfg.Observability.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.Metrics.Enabled {
		if err := p.setupMetrics(res); err != nil {
			p.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
	}

	return p, nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	m, err := NewMetrics(mp.Meter(ScopeName))
	if err != nil {
		mp.Shutdown(context.Background())
		return fmt.Errorf("classification instruments: %w", err)
	}

	p.registry = registry
	p.meterProvider = mp
	p.metrics = m
	otel.SetMeterProvider(mp)
	return nil
}

// Metrics returns the classification counters, or nil when metrics are disabled.
func (p *Provider) Metrics() *Metrics {
	if p == nil {
		return nil
	}
	return p.metrics
}

// Handler serves the Prometheus scrape. It answers 404 when metrics are disabled.
func (p *Provider) Handler() http.Handler {
	if p == nil || p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ObserveVisitLog exports the number of provisional visits and how many of
// them are older than timeout and waiting for the sweeper. Each scrape runs
// one PendingBefore query.
func (p *Provider) ObserveVisitLog(pending PendingLister, timeout time.Duration) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	meter := p.meterProvider.Meter(ScopeName)

	pendingGauge, err := meter.Int64ObservableGauge(
		"ghostwall.visits.pending",
		metric.WithDescription("Provisional visits awaiting a callback"),
		metric.WithUnit("{visit}"),
	)
	if err != nil {
		return err
	}
	overdueGauge, err := meter.Int64ObservableGauge(
		"ghostwall.visits.overdue",
		metric.WithDescription("Provisional visits past the pending timeout, awaiting the sweeper"),
		metric.WithUnit("{visit}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		ctx, cancel := context.WithTimeout(ctx, gaugeTimeout)
		defer cancel()

		now := time.Now()
		recs, err := pending.PendingBefore(ctx, now)
		if err != nil {
			return fmt.Errorf("pending visits: %w", err)
		}
		cutoff := now.Add(-timeout)
		var overdue int64
		for _, rec := range recs {
			if rec.Timestamp.Before(cutoff) {
				overdue++
			}
		}
		o.ObserveInt64(pendingGauge, int64(len(recs)))
		o.ObserveInt64(overdueGauge, overdue)
		return nil
	}, pendingGauge, overdueGauge)
	return err
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newResource(cfg *models.Config, ver version.Info) (*resource.Resource, error) {
	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = ScopeName
	}
	env := cfg.Observability.Environment
	if env == "" {
		env = "development"
	}

	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ver.Version),
			attribute.String("service.instance.id", ver.InstanceID),
			attribute.String("host.name", ver.Hostname),
			attribute.String("deployment.environment", env),
			attribute.String("vcs.commit", ver.GitCommit),
			attribute.String("ghostwall.storage", cfg.Storage.Type),
			attribute.Bool("ghostwall.rate_limit.enabled", cfg.RateLimit.Enabled),
		),
	)
}

func newTracerProvider(res *resource.Resource, cfg models.TracingConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	), nil
}

// newSpanExporter writes stdout spans to stderr so they never interleave
// with JSON logs on stdout.
func newSpanExporter(cfg models.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "otlp":
		return otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
