// Package models - Visit records and classification verdicts.
// This file defines the single row type persisted by the visit log and the
// small vocabulary of visitor types it carries.
//
// Record Lifecycle:
// - Terminal rows (human/bot) are written once and never modified
// - An unclassified row is provisional and is upgraded by delete-then-insert
// - At most one live unclassified row exists per session key
package models

import (
	"fmt"
	"strings"
	"time"
)

// VisitorType is the classification carried by a VisitRecord.
type VisitorType string

const (
	VisitorUnclassified VisitorType = "unclassified"
	VisitorHuman        VisitorType = "human"
	VisitorBot          VisitorType = "bot"
)

// Sentinels stored when a value is unavailable.
const (
	UnknownUserAgent = "unknown"
	NoSessionKey     = "none"
)

// Details strings written by the classifier and the inbound filter.
const (
	DetailsPendingConfirmation = "pageview, pending confirmation"
	DetailsHeadlessSignal      = "headless signal"
	DetailsNoContinuityToken   = "no continuity token"
	DetailsTimeout             = "timeout, no confirmation signal"
	DetailsRateLimited         = "rate limit exceeded"
	DetailsHoneypot            = "honeypot triggered"
)

// IsTerminal reports whether t is a final verdict.
func (t VisitorType) IsTerminal() bool {
	return t == VisitorHuman || t == VisitorBot
}

// Valid reports whether t is one of the known visitor types.
func (t VisitorType) Valid() bool {
	return t == VisitorUnclassified || t.IsTerminal()
}

// ParseVisitorType converts a string (case-insensitive) into a VisitorType.
func ParseVisitorType(s string) (VisitorType, error) {
	t := VisitorType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown visitor type: %q", s)
	}
	return t, nil
}

// VisitRecord is one classification event in the visit log.
type VisitRecord struct {
	ID            int64       `json:"-"`
	Timestamp     time.Time   `json:"timestamp"`
	ClientAddress string      `json:"ip"`
	UserAgent     string      `json:"user_agent"`
	VisitorType   VisitorType `json:"visitor_type"`
	Details       string      `json:"details"`
	SessionKey    string      `json:"session_key"`
}

// NewVisitRecord builds a record stamped with the given time in UTC. Empty
// user agents and session keys are replaced by their sentinels.
func NewVisitRecord(at time.Time, clientAddress, userAgent string, visitorType VisitorType, details, sessionKey string) *VisitRecord {
	if userAgent == "" {
		userAgent = UnknownUserAgent
	}
	if sessionKey == "" {
		sessionKey = NoSessionKey
	}
	return &VisitRecord{
		Timestamp:     at.UTC(),
		ClientAddress: clientAddress,
		UserAgent:     userAgent,
		VisitorType:   visitorType,
		Details:       details,
		SessionKey:    sessionKey,
	}
}

// Upgrade returns the terminal record that replaces a provisional one. The
// client address and user agent of the original visit are carried over.
func (r *VisitRecord) Upgrade(at time.Time, verdict VisitorType, details string) *VisitRecord {
	return &VisitRecord{
		Timestamp:     at.UTC(),
		ClientAddress: r.ClientAddress,
		UserAgent:     r.UserAgent,
		VisitorType:   verdict,
		Details:       details,
		SessionKey:    r.SessionKey,
	}
}

// Validate checks the invariants every persisted record must satisfy.
func (r *VisitRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if !r.VisitorType.Valid() {
		return fmt.Errorf("invalid visitor type: %q", r.VisitorType)
	}
	if r.VisitorType == VisitorUnclassified && (r.SessionKey == "" || r.SessionKey == NoSessionKey) {
		return fmt.Errorf("unclassified records require a session key")
	}
	return nil
}
