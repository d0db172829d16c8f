package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ghostwall/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgColumns = "id, ts, client_address, user_agent, visitor_type, details, session_key"

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS visits (
		id             BIGSERIAL   PRIMARY KEY,
		ts             TIMESTAMPTZ NOT NULL,
		client_address TEXT        NOT NULL,
		user_agent     TEXT        NOT NULL,
		visitor_type   TEXT        NOT NULL CHECK (visitor_type IN ('unclassified', 'human', 'bot')),
		details        TEXT        NOT NULL DEFAULT '',
		session_key    TEXT        NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_ts ON visits (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_type_ts ON visits (visitor_type, ts)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_pending ON visits (session_key) WHERE visitor_type = 'unclassified'`,
}

// PostgresStorage implements the Store interface using PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies the schema.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

// Append writes a terminal record.
func (ps *PostgresStorage) Append(ctx context.Context, record *models.VisitRecord) error {
	if err := validateTerminal(record); err != nil {
		return err
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES ($1, $2, $3, $4, $5, $6)`,
		toPgTimestamptz(record.Timestamp), record.ClientAddress, record.UserAgent, string(record.VisitorType), record.Details, record.SessionKey,
	)
	if err != nil {
		return fmt.Errorf("failed to append visit: %w", err)
	}
	return nil
}

// BeginVisit inserts an unclassified record unless one is live for the session key.
func (ps *PostgresStorage) BeginVisit(ctx context.Context, record *models.VisitRecord) (bool, error) {
	if err := validateProvisional(record); err != nil {
		return false, err
	}

	tag, err := ps.pool.Exec(ctx,
		`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		toPgTimestamptz(record.Timestamp), record.ClientAddress, record.UserAgent, string(record.VisitorType), record.Details, record.SessionKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to begin visit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Resolve deletes the newest provisional record for sessionKey and inserts its
// terminal replacement in one transaction. A concurrent resolver blocks on the
// row lock and then finds nothing to delete.
func (ps *PostgresStorage) Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string, at time.Time) (*models.VisitRecord, bool, error) {
	if !verdict.IsTerminal() {
		return nil, false, ErrNotTerminal
	}

	var resolved *models.VisitRecord
	err := pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		pending, err := scanPgRecord(tx.QueryRow(ctx,
			`DELETE FROM visits WHERE id = (
				SELECT id FROM visits
				WHERE session_key = $1 AND visitor_type = 'unclassified'
				ORDER BY ts DESC, id DESC LIMIT 1
			) RETURNING `+pgColumns,
			sessionKey,
		))
		if err != nil {
			return err
		}

		resolved = pending.Upgrade(at, verdict, details)
		return tx.QueryRow(ctx,
			`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			toPgTimestamptz(resolved.Timestamp), resolved.ClientAddress, resolved.UserAgent, string(resolved.VisitorType), resolved.Details, resolved.SessionKey,
		).Scan(&resolved.ID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve visit: %w", err)
	}
	return resolved, true, nil
}

// Query returns records matching filter.
func (ps *PostgresStorage) Query(ctx context.Context, filter Filter) ([]*models.VisitRecord, error) {
	query, args := buildSelect(pgColumns, filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	return ps.queryRecords(ctx, query, args...)
}

// PendingBefore returns unclassified records older than cutoff, oldest first.
func (ps *PostgresStorage) PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error) {
	return ps.queryRecords(ctx,
		`SELECT `+pgColumns+` FROM visits WHERE visitor_type = 'unclassified' AND ts < $1 ORDER BY ts ASC, id ASC`,
		toPgTimestamptz(cutoff),
	)
}

// Clear removes every record.
func (ps *PostgresStorage) Clear(ctx context.Context) error {
	if _, err := ps.pool.Exec(ctx, `DELETE FROM visits`); err != nil {
		return fmt.Errorf("failed to clear visits: %w", err)
	}
	return nil
}

// Ping checks the pool connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func (ps *PostgresStorage) queryRecords(ctx context.Context, query string, args ...any) ([]*models.VisitRecord, error) {
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	records := make([]*models.VisitRecord, 0)
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visits: %w", err)
	}
	return records, nil
}
