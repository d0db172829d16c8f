// Package filter runs the ordered inbound checks on every request before it
// reaches the protected site: rate limit, user-agent keyword, missing
// headers, then the honeypot path. The first check that trips denies the
// request and writes a terminal bot record to the visit log.
//
// Visit log writes are bounded by a short timeout and fail open: a store
// fault never blocks or denies a request, it is counted and the record is
// dropped.
package filter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ghostwall/internal/detect"
	"ghostwall/internal/logger"
	"ghostwall/internal/models"
	"ghostwall/internal/observability"
	"ghostwall/internal/ratelimit"
	"ghostwall/internal/session"
	"ghostwall/internal/storage"
)

// Config holds the filter settings drawn from the service configuration.
type Config struct {
	LogHits           bool
	HoneypotPath      string
	ExemptPaths       []string
	StoreTimeout      time.Duration
	TrustForwardedFor bool
}

// ConfigFrom extracts filter settings from the service configuration.
func ConfigFrom(cfg *models.Config) Config {
	return Config{
		LogHits:           cfg.RateLimit.LogHits,
		HoneypotPath:      cfg.Detection.HoneypotPath,
		ExemptPaths:       cfg.Detection.ExemptPaths,
		StoreTimeout:      cfg.Classification.StoreTimeout,
		TrustForwardedFor: cfg.Security.TrustForwardedFor,
	}
}

// Decision is the outcome of the inbound checks for one request.
type Decision struct {
	Allowed bool
	Status  int
	// Reason is the machine-readable denial category.
	Reason string
	// Details is written to the visit log.
	Details string
	// RateInfo is set whenever the rate limiter was consulted.
	RateInfo *ratelimit.Info
}

// Option configures a Filter.
type Option func(*Filter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// WithMetrics attaches classification counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// WithFaultCounter shares a fault counter with other visit log writers.
func WithFaultCounter(c *FaultCounter) Option {
	return func(f *Filter) { f.faults = c }
}

// Filter is safe for concurrent use by many in-flight requests.
type Filter struct {
	cfg      Config
	limiter  ratelimit.Limiter
	detector *detect.Detector
	store    storage.Store
	metrics  *observability.Metrics
	now      func() time.Time

	faults   *FaultCounter
	log      *slog.Logger
}

// New creates a Filter. limiter may be nil when rate limiting is disabled.
func New(cfg Config, limiter ratelimit.Limiter, detector *detect.Detector, store storage.Store, opts ...Option) *Filter {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	f := &Filter{
		cfg:      cfg,
		limiter:  limiter,
		detector: detector,
		store:    store,
		now:      time.Now,
		log:      logger.Component("filter"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.faults == nil {
		f.faults = NewFaultCounter(f.metrics)
	}
	return f
}

// Faults returns the number of visit log writes dropped since start,
// including those reported by other writers sharing the counter.
func (f *Filter) Faults() int64 {
	return f.faults.Count()
}

// FaultCounter returns the counter the filter reports dropped writes to.
func (f *Filter) FaultCounter() *FaultCounter {
	return f.faults
}

// Exempt reports whether path bypasses the filter. Entries ending in "/"
// match as prefixes, others exactly. The honeypot is never exempt.
func (f *Filter) Exempt(path string) bool {
	if path == f.cfg.HoneypotPath {
		return false
	}
	for _, p := range f.cfg.ExemptPaths {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// Check runs the ordered checks and logs a bot record for a denial.
func (f *Filter) Check(r *http.Request) Decision {
	now := f.now()
	addr := ratelimit.ClientAddress(r, f.cfg.TrustForwardedFor)
	ua := r.UserAgent()

	var rateInfo *ratelimit.Info
	if f.limiter != nil {
		allowed, info := f.limiter.Allow(addr, now)
		rateInfo = &info
		if !allowed {
			d := Decision{
				Status:   http.StatusTooManyRequests,
				Reason:   models.DenyReasonRateLimit,
				Details:  models.DetailsRateLimited,
				RateInfo: rateInfo,
			}
			switch {
			case f.honeypot(r):
				// A honeypot hit is logged even when rate-limit hits are not.
				f.record(r.Context(), models.NewVisitRecord(now, addr, ua, models.VisitorBot, models.DetailsHoneypot, sessionKey(r)))
			case f.cfg.LogHits:
				f.record(r.Context(), models.NewVisitRecord(now, addr, ua, models.VisitorBot, d.Details, ""))
			}
			f.denied(r, addr, d)
			return d
		}
	}

	d := Decision{Allowed: true, Status: http.StatusOK, RateInfo: rateInfo}
	if keyword, ok := f.detector.MatchKeyword(ua); ok {
		d = Decision{Status: http.StatusForbidden, Reason: models.DenyReasonKeyword, Details: detect.KeywordReason(keyword), RateInfo: rateInfo}
	} else if suspicious, reason := f.detector.SuspiciousHeaders(r.Header); suspicious {
		d = Decision{Status: http.StatusForbidden, Reason: models.DenyReasonHeaders, Details: reason, RateInfo: rateInfo}
	} else if f.honeypot(r) {
		d = Decision{Status: http.StatusForbidden, Reason: models.DenyReasonHoneypot, Details: models.DetailsHoneypot, RateInfo: rateInfo}
	}

	if !d.Allowed {
		f.record(r.Context(), models.NewVisitRecord(now, addr, ua, models.VisitorBot, d.Details, sessionKey(r)))
		f.denied(r, addr, d)
	}
	return d
}

func (f *Filter) honeypot(r *http.Request) bool {
	return f.cfg.HoneypotPath != "" && r.URL.Path == f.cfg.HoneypotPath
}

// Middleware applies Check to every non-exempt request.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		d := f.Check(r)
		if d.RateInfo != nil {
			ratelimit.WriteHeaders(w, *d.RateInfo, d.Status != http.StatusTooManyRequests)
		}
		if !d.Allowed {
			writeDenial(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// record writes a filter verdict with a bounded timeout, failing open.
func (f *Filter) record(ctx context.Context, rec *models.VisitRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.StoreTimeout)
	defer cancel()

	if err := f.store.Append(ctx, rec); err != nil {
		f.faults.Record(ctx, OpAppend, err, "client_address", rec.ClientAddress)
		return
	}
	f.metrics.RecordVerdict(ctx, rec.VisitorType, "filter")
}

func (f *Filter) denied(r *http.Request, addr string, d Decision) {
	f.metrics.RecordDenial(r.Context(), d.Reason)
	f.log.Info("request denied",
		"reason", d.Reason,
		"details", d.Details,
		"client_address", addr,
		"path", r.URL.Path,
		"user_agent", r.UserAgent(),
	)
}

func sessionKey(r *http.Request) string {
	c, err := r.Cookie(session.SessionCookie)
	if err != nil || !session.ValidKey(c.Value) {
		return ""
	}
	return c.Value
}

func writeDenial(w http.ResponseWriter, d Decision) {
	message, code := "Access denied", models.ErrorCodeForbidden
	if d.Status == http.StatusTooManyRequests {
		message, code = "Too many requests, please try again later", models.ErrorCodeRateLimitExceeded
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(d.Status)
	json.NewEncoder(w).Encode(models.NewDenialResponse(message, code, d.Reason))
}
