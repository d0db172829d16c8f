package classify

import (
	"context"

	"ghostwall/internal/models"
)

// ServiceInterface defines the deferred classification operations
type ServiceInterface interface {
	// BeginVisit opens a provisional record for a page view
	BeginVisit(ctx context.Context, sessionKey, clientAddress, userAgent string) (bool, error)

	// Resolve upgrades the live provisional record for sessionKey
	Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string) (*Outcome, error)

	// HandleSignal turns a client callback into a verdict and resolves it
	HandleSignal(ctx context.Context, signal Signal) (*Outcome, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)

// TokenVerifier checks a continuity token against its session key.
type TokenVerifier interface {
	Verify(sessionKey, token string) bool
}
