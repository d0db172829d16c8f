package ratelimit

import (
	"sync"
	"time"
)

// window is the request history of one client address. hits is kept in
// ascending order and never holds more than limit+1 entries: the newest
// limit+1 instants are enough to decide whether the count in any trailing
// window exceeds limit.
type window struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	evicted  bool
}

// WindowLimiter is an in-memory sliding-window rate limiter. Each client
// address owns its own window guarded by its own mutex, so requests from
// different addresses never wait on each other beyond the map lookup. A
// background goroutine evicts addresses idle for longer than the idle TTL.
type WindowLimiter struct {
	limit           int
	length          time.Duration
	idleTTL         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.RWMutex
	windows map[string]*window
	done    chan struct{}
	closed  bool
}

// Option configures a WindowLimiter.
type Option func(*WindowLimiter)

// WithCleanupInterval sets how often idle addresses are evicted.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *WindowLimiter) { l.cleanupInterval = d }
}

// WithIdleTTL sets how long an address may stay silent before its window is
// dropped. Values shorter than the window length are raised to it.
func WithIdleTTL(d time.Duration) Option {
	return func(l *WindowLimiter) { l.idleTTL = d }
}

// WithClock replaces the clock used by the eviction loop.
func WithClock(now func() time.Time) Option {
	return func(l *WindowLimiter) { l.now = now }
}

// NewWindowLimiter creates a limiter admitting at most limit requests per
// client within any trailing interval of the given length.
func NewWindowLimiter(limit int, length time.Duration, opts ...Option) *WindowLimiter {
	l := &WindowLimiter{
		limit:           limit,
		length:          length,
		idleTTL:         2 * length,
		cleanupInterval: time.Minute,
		now:             time.Now,
		windows:         make(map[string]*window),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.idleTTL < l.length {
		l.idleTTL = l.length
	}
	go l.cleanup()
	return l
}

// Allow records a request from key at now. The request that brings the count
// within the trailing window above the limit, and every one after it while
// the count stays above, is denied.
func (l *WindowLimiter) Allow(key string, now time.Time) (bool, Info) {
	for {
		w := l.window(key)

		w.mu.Lock()
		if w.evicted {
			// Lost a race with eviction; the map now holds (or will hold) a fresh window.
			w.mu.Unlock()
			continue
		}

		w.prune(now.Add(-l.length))
		w.hits = append(w.hits, now)
		if len(w.hits) > l.limit+1 {
			w.hits = append(w.hits[:0], w.hits[len(w.hits)-l.limit-1:]...)
		}
		w.lastSeen = now

		allowed := len(w.hits) <= l.limit
		info := l.info(w, now, allowed)
		w.mu.Unlock()

		return allowed, info
	}
}

func (l *WindowLimiter) window(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	w = &window{hits: make([]time.Time, 0, 4)}
	l.windows[key] = w
	return w
}

// prune drops instants at or before cutoff. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// info derives header values from the window. Caller holds w.mu.
func (l *WindowLimiter) info(w *window, now time.Time, allowed bool) Info {
	info := Info{
		Limit:     l.limit,
		Remaining: l.limit - len(w.hits),
		ResetAt:   w.hits[0].Add(l.length),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if !allowed {
		// The next request fits once the oldest len-limit+1 hits have expired.
		info.RetryAfter = w.hits[len(w.hits)-l.limit].Add(l.length).Sub(now)
	}
	return info
}

// Len reports how many client addresses currently own a window.
func (l *WindowLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Close stops the background eviction goroutine.
func (l *WindowLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *WindowLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle(l.now())
		}
	}
}

// evictIdle removes windows whose last request is older than the idle TTL.
func (l *WindowLimiter) evictIdle(now time.Time) int {
	cutoff := now.Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, w := range l.windows {
		w.mu.Lock()
		if w.lastSeen.Before(cutoff) {
			w.evicted = true
			delete(l.windows, key)
			evicted++
		}
		w.mu.Unlock()
	}
	return evicted
}
