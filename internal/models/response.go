// Package models - HTTP response and request payloads.
// This file defines the JSON bodies exchanged with browsers, the callback
// script and dashboard consumers.
//
// Response Design Principles:
// - Consistent JSON error structure across all endpoints
// - Machine-readable codes alongside human-readable messages
// - Denials carry a reason category so clients can tell checks apart
package models

import (
	"encoding/json"
	"time"
)

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string    `json:"error"`            // Error type (always "error")
	Message   string    `json:"message"`          // Human-readable description
	Code      string    `json:"code,omitempty"`   // Machine-readable error code
	Reason    string    `json:"reason,omitempty"` // Denial category, see DenyReason*
	Timestamp time.Time `json:"timestamp"`
}

// Common error codes.
const (
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeForbidden          = "FORBIDDEN"
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

// Denial reason categories reported to clients and recorded in metrics.
const (
	DenyReasonRateLimit = "rate_limit"
	DenyReasonKeyword   = "keyword"
	DenyReasonHeaders   = "headers"
	DenyReasonHoneypot  = "honeypot"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewDenialResponse builds the body returned when the inbound filter rejects a request.
func NewDenialResponse(message, code, reason string) *ErrorResponse {
	resp := NewErrorResponse(message, code)
	resp.Reason = reason
	return resp
}

// StatsResponse summarises the visit log by visitor type.
type StatsResponse struct {
	TotalVisits  int `json:"total_visits"`
	Bots         int `json:"bots"`
	Humans       int `json:"humans"`
	Unclassified int `json:"unclassified"`
}

// NewStatsResponse counts records by type.
func NewStatsResponse(records []*VisitRecord) *StatsResponse {
	stats := &StatsResponse{TotalVisits: len(records)}
	for _, r := range records {
		switch r.VisitorType {
		case VisitorBot:
			stats.Bots++
		case VisitorHuman:
			stats.Humans++
		default:
			stats.Unclassified++
		}
	}
	return stats
}

// TrackRequest is the body posted by the client script after it has run.
//
// IsHeadless is kept raw so that a non-boolean value can be told apart from
// an absent one; both count as missing proof of proper script execution.
type TrackRequest struct {
	SessionKey      string          `json:"session_key"`
	IsHeadless      json.RawMessage `json:"is_headless"`
	ContinuityToken string          `json:"continuity_token"`
}

// Headless decodes IsHeadless. ok is false when the field is absent or not a boolean.
func (r *TrackRequest) Headless() (headless bool, ok bool) {
	if len(r.IsHeadless) == 0 || string(r.IsHeadless) == "null" {
		return false, false
	}
	if err := json.Unmarshal(r.IsHeadless, &headless); err != nil {
		return false, false
	}
	return headless, true
}
