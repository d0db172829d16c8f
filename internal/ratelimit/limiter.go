// Package ratelimit provides per-client request admission using a sliding
// time window held in process memory. It is best-effort by nature: windows
// are not persisted and are lost on restart.
package ratelimit

import "time"

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use, and calls for the same key must be linearizable.
type Limiter interface {
	// Allow records a request for key at now and reports whether it is
	// within the limit, along with rate information for response headers.
	Allow(key string, now time.Time) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the oldest counted request leaves the window
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
