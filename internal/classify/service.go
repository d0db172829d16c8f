// Package classify implements the deferred classification state machine.
//
// A root page view opens an unclassified record. The record is later
// upgraded exactly once, to human or bot, by the client callback or by the
// sweeper. Whichever resolver arrives second finds nothing to upgrade and
// returns without error.
package classify

import (
	"context"
	"log/slog"
	"time"

	"ghostwall/internal/logger"
	"ghostwall/internal/models"
	"ghostwall/internal/session"
	"ghostwall/internal/storage"
)

// Signal is the evidence carried by a client callback.
type Signal struct {
	SessionKey      string
	ContinuityToken string
	// Headless is nil when the client did not report a boolean.
	Headless *bool
}

// Outcome describes what a resolution did.
type Outcome struct {
	Verdict  models.VisitorType
	Details  string
	Resolved bool
	Record   *models.VisitRecord
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStripes sets the number of per-key lock stripes.
func WithStripes(n int) Option {
	return func(s *Service) { s.locks = newKeyLock(n) }
}

// Service handles provisional visits and their upgrade to a final verdict
type Service struct {
	store    storage.Store
	verifier TokenVerifier
	locks    *keyLock
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a new classification service over the given store
func NewService(store storage.Store, verifier TokenVerifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		verifier: verifier,
		locks:    newKeyLock(64),
		now:      time.Now,
		log:      logger.Component("classify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// BeginVisit records a pending page view unless one is already live for the
// session key. A repeated call before resolution leaves the store untouched.
func (s *Service) BeginVisit(ctx context.Context, sessionKey, clientAddress, userAgent string) (bool, error) {
	if !session.ValidKey(sessionKey) {
		return false, NewInvalidRequestError("invalid session key", nil)
	}

	record := models.NewVisitRecord(s.now(), clientAddress, userAgent, models.VisitorUnclassified, models.DetailsPendingConfirmation, sessionKey)
	created, err := s.store.BeginVisit(ctx, record)
	if err != nil {
		return false, NewStoreError("failed to record page view", err)
	}

	if created {
		s.log.Debug("visit pending confirmation", "session_key", sessionKey, "client_address", clientAddress)
	}
	return created, nil
}

// Resolve upgrades the live provisional record for sessionKey. A miss means
// another resolver won or the record never existed; it is reported through
// Outcome.Resolved, not as an error.
func (s *Service) Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string) (*Outcome, error) {
	if !verdict.IsTerminal() {
		return nil, NewInvalidRequestError("verdict must be human or bot", nil)
	}

	unlock := s.locks.Lock(sessionKey)
	defer unlock()

	record, ok, err := s.store.Resolve(ctx, sessionKey, verdict, details, s.now())
	if err != nil {
		return nil, NewStoreError("failed to resolve visit", err)
	}

	outcome := &Outcome{Verdict: verdict, Details: details, Resolved: ok, Record: record}
	if ok {
		s.log.Info("visit classified",
			"session_key", sessionKey,
			"visitor_type", verdict,
			"details", details,
			"client_address", record.ClientAddress,
		)
	} else {
		s.log.Debug("no pending visit to resolve", "session_key", sessionKey, "visitor_type", verdict)
	}
	return outcome, nil
}

// Verdict maps callback evidence to a classification. A missing or forged
// continuity token outranks the headless flag, and a headless flag that is
// not a boolean counts as a missing token.
func (s *Service) Verdict(signal Signal) (models.VisitorType, string) {
	if signal.Headless == nil || s.verifier == nil || !s.verifier.Verify(signal.SessionKey, signal.ContinuityToken) {
		return models.VisitorBot, models.DetailsNoContinuityToken
	}
	if *signal.Headless {
		return models.VisitorBot, models.DetailsHeadlessSignal
	}
	return models.VisitorHuman, ""
}

// HandleSignal classifies a client callback and resolves the matching visit.
func (s *Service) HandleSignal(ctx context.Context, signal Signal) (*Outcome, error) {
	if !session.ValidKey(signal.SessionKey) {
		return nil, NewInvalidRequestError("invalid session key", nil)
	}

	verdict, details := s.Verdict(signal)
	return s.Resolve(ctx, signal.SessionKey, verdict, details)
}
