// Package sweeper promotes provisional visits that never received a client
// callback to bot once they are older than the pending timeout.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"ghostwall/internal/classify"
	"ghostwall/internal/logger"
	"ghostwall/internal/models"
)

// PendingLister returns provisional records stamped before cutoff.
type PendingLister interface {
	PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error)
}

// Resolver upgrades a provisional record.
type Resolver interface {
	Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string) (*classify.Outcome, error)
}

// Result summarises one sweep.
type Result struct {
	Scanned  int
	Resolved int
	Missed   int
	Failed   int
}

// Sweeper runs the timeout pass on a fixed interval.
type Sweeper struct {
	pending  PendingLister
	resolver Resolver
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	onSweep  func(Result)
	log      *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithObserver registers a callback invoked after every sweep.
func WithObserver(fn func(Result)) Option {
	return func(s *Sweeper) { s.onSweep = fn }
}

// New creates a Sweeper that every interval resolves visits pending for
// longer than timeout.
func New(pending PendingLister, resolver Resolver, interval, timeout time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		pending:  pending,
		resolver: resolver,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		log:      logger.Component("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", "interval", s.interval, "pending_timeout", s.timeout)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep resolves every provisional visit older than now minus the pending
// timeout. A visit already resolved by its callback counts as a miss. A
// failure on one visit does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	stale, err := s.pending.PendingBefore(ctx, now.Add(-s.timeout))
	if err != nil {
		return res, err
	}
	res.Scanned = len(stale)

	for _, rec := range stale {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.resolver.Resolve(ctx, rec.SessionKey, models.VisitorBot, models.DetailsTimeout)
		switch {
		case err != nil:
			res.Failed++
			s.log.Warn("failed to resolve stale visit", "session_key", rec.SessionKey, "error", err)
		case outcome.Resolved:
			res.Resolved++
		default:
			res.Missed++
		}
	}

	if res.Scanned > 0 {
		s.log.Debug("sweep complete", "scanned", res.Scanned, "resolved", res.Resolved, "missed", res.Missed, "failed", res.Failed)
	}
	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res, nil
}
