package storage

import (
	"context"
	"time"

	"ghostwall/internal/models"
)

// Store defines the interface for visit log persistence and retrieval.
// It is the only state shared by the filter, the classifier and the sweeper,
// so every backend must make Resolve atomic per session key.
type Store interface {
	// Append writes a terminal record.
	Append(ctx context.Context, record *models.VisitRecord) error

	// BeginVisit writes an unclassified record unless one is already live for
	// the same session key. created reports whether a row was inserted.
	BeginVisit(ctx context.Context, record *models.VisitRecord) (created bool, err error)

	// Resolve atomically removes the newest unclassified record for
	// sessionKey and writes its terminal replacement. A missing provisional
	// record is not an error: it returns (nil, false, nil).
	Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string, at time.Time) (*models.VisitRecord, bool, error)

	// Query returns records matching the filter, newest first unless
	// Filter.Oldest is set.
	Query(ctx context.Context, filter Filter) ([]*models.VisitRecord, error)

	// PendingBefore returns unclassified records stamped strictly before cutoff.
	PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Type       models.VisitorType
	SessionKey string
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
	// Oldest returns records in ascending timestamp order.
	Oldest bool
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// DSN is used for database backends
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	BusyTimeout     time.Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

// matches reports whether r satisfies the non-zero fields of f.
func (f Filter) matches(r *models.VisitRecord) bool {
	if f.Type != "" && r.VisitorType != f.Type {
		return false
	}
	if f.SessionKey != "" && r.SessionKey != f.SessionKey {
		return false
	}
	return true
}
