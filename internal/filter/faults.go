package filter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"ghostwall/internal/logger"
	"ghostwall/internal/observability"

	"golang.org/x/time/rate"
)

// Store operations reported to a FaultCounter.
const (
	OpAppend     = "append"
	OpBeginVisit = "begin_visit"
	OpResolve    = "resolve"
)

// FaultCounter tracks visit log writes dropped under the fail-open policy.
// Warnings are throttled so a dead store cannot flood the log.
type FaultCounter struct {
	count   atomic.Int64
	metrics *observability.Metrics
	warn    *rate.Limiter
	log     *slog.Logger
}

// NewFaultCounter creates a FaultCounter. m may be nil.
func NewFaultCounter(m *observability.Metrics) *FaultCounter {
	return &FaultCounter{
		metrics: m,
		warn:    rate.NewLimiter(rate.Every(10*time.Second), 1),
		log:     logger.Component("filter"),
	}
}

// Record counts one dropped write. attrs are appended to the warning.
func (c *FaultCounter) Record(ctx context.Context, operation string, err error, attrs ...any) int64 {
	n := c.count.Add(1)
	c.metrics.RecordStoreFault(ctx, operation)
	if c.warn.Allow() {
		args := append([]any{"operation", operation, "error", err, "faults", n}, attrs...)
		c.log.Warn("visit log write failed, continuing without it", args...)
	}
	return n
}

// Count returns the number of dropped writes since start.
func (c *FaultCounter) Count() int64 {
	return c.count.Load()
}
