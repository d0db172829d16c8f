// Package detect holds the request heuristics consulted by the inbound
// filter. A Detector is immutable after construction and safe for concurrent
// use without locking.
package detect

import (
	"fmt"
	"net/http"
	"strings"

	"ghostwall/internal/models"
)

// Detector checks user agents against a keyword denylist and request headers
// against the set a real browser always sends.
type Detector struct {
	keywords  []string
	expected  []string
	critical  map[string]bool
	threshold int
}

// New builds a Detector from detection settings. Keywords are matched
// case-insensitively in the configured order.
func New(cfg models.DetectionConfig) *Detector {
	d := &Detector{
		keywords:  make([]string, 0, len(cfg.Keywords)),
		expected:  make([]string, 0, len(cfg.ExpectedHeaders)),
		critical:  make(map[string]bool, len(cfg.CriticalHeaders)),
		threshold: cfg.MissingThreshold,
	}

	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			d.keywords = append(d.keywords, k)
		}
	}
	for _, h := range cfg.ExpectedHeaders {
		d.expected = append(d.expected, http.CanonicalHeaderKey(strings.TrimSpace(h)))
	}
	for _, h := range cfg.CriticalHeaders {
		d.critical[http.CanonicalHeaderKey(strings.TrimSpace(h))] = true
	}
	return d
}

// MatchKeyword returns the first denylist token found in userAgent.
func (d *Detector) MatchKeyword(userAgent string) (string, bool) {
	ua := strings.ToLower(userAgent)
	for _, k := range d.keywords {
		if strings.Contains(ua, k) {
			return k, true
		}
	}
	return "", false
}

// HeaderReport lists the expected headers a request did not carry.
type HeaderReport struct {
	Missing         []string
	MissingCritical []string
}

// Reason renders the report for the visit log.
func (r HeaderReport) Reason() string {
	if len(r.Missing) == 0 {
		return ""
	}
	names := make([]string, len(r.Missing))
	for i, h := range r.Missing {
		names[i] = strings.ToLower(h)
	}
	return "missing headers: " + strings.Join(names, ", ")
}

// CheckHeaders reports which expected headers are absent or blank.
func (d *Detector) CheckHeaders(h http.Header) HeaderReport {
	var report HeaderReport
	for _, name := range d.expected {
		if strings.TrimSpace(h.Get(name)) != "" {
			continue
		}
		report.Missing = append(report.Missing, name)
		if d.critical[name] {
			report.MissingCritical = append(report.MissingCritical, name)
		}
	}
	return report
}

// SuspiciousHeaders flags a request missing any critical header, or at least
// the configured threshold of expected headers when one is set.
func (d *Detector) SuspiciousHeaders(h http.Header) (bool, string) {
	report := d.CheckHeaders(h)
	if len(report.MissingCritical) > 0 {
		return true, report.Reason()
	}
	if d.threshold > 0 && len(report.Missing) >= d.threshold {
		return true, report.Reason()
	}
	return false, ""
}

// KeywordReason renders a keyword hit for the visit log.
func KeywordReason(keyword string) string {
	return fmt.Sprintf("keyword match: %s", keyword)
}
