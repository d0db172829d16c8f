package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ghostwall/internal/detect"
	"ghostwall/internal/models"
	"ghostwall/internal/ratelimit"
	"ghostwall/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	filter  *Filter
	store   storage.Store
	clock   *time.Time
	handler http.Handler
}

func newHarness(t *testing.T, store storage.Store, mutate func(*models.Config)) *harness {
	t.Helper()
	cfg := models.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	if store == nil {
		mem, err := storage.NewMemoryStorage(storage.Config{})
		require.NoError(t, err)
		store = mem
	}

	clock := t0
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		wl := ratelimit.NewWindowLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window, ratelimit.WithCleanupInterval(time.Hour))
		t.Cleanup(wl.Close)
		limiter = wl
	}

	h := &harness{store: store, clock: &clock}
	h.filter = New(ConfigFrom(cfg), limiter, detect.New(cfg.Detection), store, WithClock(func() time.Time { return *h.clock }))
	h.handler = h.filter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("protected"))
	}))
	return h
}

func browserRequest(path, addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = addr + ":51234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36")
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("Accept-Encoding", "gzip")
	return req
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) records(t *testing.T) []*models.VisitRecord {
	t.Helper()
	recs, err := h.store.Query(context.Background(), storage.Filter{Oldest: true})
	require.NoError(t, err)
	return recs
}

func decodeDenial(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestFilter_BrowserPassesThrough(t *testing.T) {
	h := newHarness(t, nil, nil)

	rr := h.serve(browserRequest("/", "198.51.100.4"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "protected", rr.Body.String())
	assert.Equal(t, "20", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, h.records(t), "allowed requests write nothing")
}

func TestFilter_KeywordDenied(t *testing.T) {
	h := newHarness(t, nil, nil)

	req := browserRequest("/", "66.249.66.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	rr := h.serve(req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeDenial(t, rr)
	assert.Equal(t, models.DenyReasonKeyword, body.Reason)
	assert.Equal(t, models.ErrorCodeForbidden, body.Code)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.VisitorBot, recs[0].VisitorType)
	assert.Contains(t, recs[0].Details, "google")
	assert.Equal(t, "66.249.66.1", recs[0].ClientAddress)
	assert.Equal(t, models.NoSessionKey, recs[0].SessionKey)
	assert.True(t, recs[0].Timestamp.Equal(t0))
}

func TestFilter_MissingHeadersDenied(t *testing.T) {
	h := newHarness(t, nil, nil)

	req := browserRequest("/", "203.0.113.50")
	req.Header.Del("Accept-Language")
	rr := h.serve(req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, models.DenyReasonHeaders, decodeDenial(t, rr).Reason)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "missing headers: accept-language", recs[0].Details)
}

func TestFilter_HoneypotDenied(t *testing.T) {
	h := newHarness(t, nil, nil)

	rr := h.serve(browserRequest("/honeypot", "203.0.113.51"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, models.DenyReasonHoneypot, decodeDenial(t, rr).Reason)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.DetailsHoneypot, recs[0].Details)
}

func TestFilter_KeywordCheckedBeforeHeaders(t *testing.T) {
	h := newHarness(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8.4.0")
	rr := h.serve(req)

	assert.Equal(t, models.DenyReasonKeyword, decodeDenial(t, rr).Reason)
	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "keyword match: curl", recs[0].Details)
}

func TestFilter_RateLimitAfterTwentyRequests(t *testing.T) {
	h := newHarness(t, nil, nil)

	for i := 1; i <= 25; i++ {
		*h.clock = t0.Add(time.Duration(i) * 400 * time.Millisecond)
		rr := h.serve(browserRequest("/", "203.0.113.7"))
		if i <= 20 {
			assert.Equal(t, http.StatusOK, rr.Code, "request %d", i)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rr.Code, "request %d", i)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Equal(t, models.DenyReasonRateLimit, decodeDenial(t, rr).Reason)
	}

	recs := h.records(t)
	require.Len(t, recs, 5)
	for _, r := range recs {
		assert.Equal(t, models.VisitorBot, r.VisitorType)
		assert.Equal(t, models.DetailsRateLimited, r.Details)
		assert.Equal(t, models.NoSessionKey, r.SessionKey)
	}

	// Another address is unaffected.
	rr := h.serve(browserRequest("/", "198.51.100.9"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestFilter_RateLimitHitsNotLoggedWhenDisabled(t *testing.T) {
	h := newHarness(t, nil, func(c *models.Config) {
		c.RateLimit.Limit = 1
		c.RateLimit.LogHits = false
	})

	h.serve(browserRequest("/", "203.0.113.7"))
	rr := h.serve(browserRequest("/", "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, h.records(t))
}

func TestFilter_RateLimitedHoneypotStillLogged(t *testing.T) {
	h := newHarness(t, nil, func(c *models.Config) {
		c.RateLimit.Limit = 1
		c.RateLimit.LogHits = false
	})

	h.serve(browserRequest("/", "203.0.113.7"))
	rr := h.serve(browserRequest("/honeypot", "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, models.DenyReasonRateLimit, decodeDenial(t, rr).Reason)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.VisitorBot, recs[0].VisitorType)
	assert.Equal(t, models.DetailsHoneypot, recs[0].Details)
}

func TestFilter_RateLimitedHoneypotLoggedOnce(t *testing.T) {
	h := newHarness(t, nil, func(c *models.Config) { c.RateLimit.Limit = 1 })

	h.serve(browserRequest("/", "203.0.113.7"))
	rr := h.serve(browserRequest("/honeypot", "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.DetailsHoneypot, recs[0].Details)
}

func TestFilter_RateLimitDisabled(t *testing.T) {
	h := newHarness(t, nil, func(c *models.Config) { c.RateLimit.Enabled = false })

	for i := 0; i < 50; i++ {
		rr := h.serve(browserRequest("/", "203.0.113.7"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestFilter_ExemptPaths(t *testing.T) {
	h := newHarness(t, nil, nil)

	tests := []struct {
		path   string
		exempt bool
	}{
		{"/health", true},
		{"/log", true},
		{"/log.csv", true},
		{"/static/ghost.js", true},
		{"/logs", false},
		{"/", false},
		{"/honeypot", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.exempt, h.filter.Exempt(tt.path))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("User-Agent", "Uptime-Kuma/1.23 bot")
	assert.Equal(t, http.StatusOK, h.serve(req).Code)
	assert.Empty(t, h.records(t))
}

type brokenStore struct {
	storage.Store
	calls int
}

func (b *brokenStore) Append(ctx context.Context, _ *models.VisitRecord) error {
	b.calls++
	return errors.New("database is locked")
}

func TestFilter_FailsOpenOnStoreFault(t *testing.T) {
	store := &brokenStore{}
	h := newHarness(t, store, nil)

	req := browserRequest("/", "66.249.66.1")
	req.Header.Set("User-Agent", "python-requests/2.31")
	rr := h.serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code, "the denial still stands")

	rr = h.serve(browserRequest("/", "198.51.100.4"))
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, int64(1), h.filter.Faults())
	assert.Equal(t, 1, store.calls)
}

type slowStore struct {
	storage.Store
}

func (slowStore) Append(ctx context.Context, _ *models.VisitRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFilter_StoreWriteIsBounded(t *testing.T) {
	h := newHarness(t, slowStore{}, func(c *models.Config) { c.Classification.StoreTimeout = 20 * time.Millisecond })

	req := browserRequest("/honeypot", "203.0.113.9")
	start := time.Now()
	rr := h.serve(req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), h.filter.Faults())
}

func TestFilter_ConcurrentRequests(t *testing.T) {
	h := newHarness(t, nil, func(c *models.Config) { c.RateLimit.Limit = 1000 })

	done := make(chan int, 40)
	for i := 0; i < 40; i++ {
		go func(i int) {
			rr := h.serve(browserRequest("/", fmt.Sprintf("10.0.0.%d", i%4)))
			done <- rr.Code
		}(i)
	}
	for i := 0; i < 40; i++ {
		assert.Equal(t, http.StatusOK, <-done)
	}
}

func TestFilter_SharedFaultCounter(t *testing.T) {
	shared := NewFaultCounter(nil)
	shared.Record(context.Background(), OpBeginVisit, errors.New("disk I/O error"))

	f := New(Config{}, nil, detect.New(models.NewDefaultConfig().Detection), &brokenStore{}, WithFaultCounter(shared))
	assert.Same(t, shared, f.FaultCounter())
	assert.Equal(t, int64(1), f.Faults())

	req := browserRequest("/", "66.249.66.1")
	req.Header.Set("User-Agent", "curl/8.7.1")
	f.Check(req)
	assert.Equal(t, int64(2), f.Faults())
	assert.Equal(t, int64(2), shared.Count())
}
