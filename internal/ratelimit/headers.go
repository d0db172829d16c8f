package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// WriteHeaders sets the standard rate limit headers on w. Retry-After is
// only written when the request was denied.
func WriteHeaders(w http.ResponseWriter, info Info, allowed bool) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

	if !allowed {
		retryAfterSecs := int(info.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
}

// ClientAddress extracts the client address from the request. When
// trustForwarded is set the first X-Forwarded-For entry wins, then X-Real-IP;
// otherwise, or when neither is present, the transport peer address is used
// without its port.
func ClientAddress(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
