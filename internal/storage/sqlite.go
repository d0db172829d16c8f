package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ghostwall/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteColumns = "id, ts, client_address, user_agent, visitor_type, details, session_key"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS visits (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		ts             INTEGER NOT NULL,
		client_address TEXT    NOT NULL,
		user_agent     TEXT    NOT NULL,
		visitor_type   TEXT    NOT NULL CHECK (visitor_type IN ('unclassified', 'human', 'bot')),
		details        TEXT    NOT NULL DEFAULT '',
		session_key    TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_ts ON visits (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_type_ts ON visits (visitor_type, ts)`,
	// At most one live provisional record per session key.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_pending ON visits (session_key) WHERE visitor_type = 'unclassified'`,
}

// SQLiteStorage implements the Store interface on an embedded SQLite file.
// Write transactions take the database lock up front (_txlock=immediate) so
// concurrent resolves of one session key serialize instead of deadlocking.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance and applies the schema
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	inMemory := isSQLiteMemoryDSN(config.DSN)
	db, err := sql.Open("sqlite", sqliteConnString(config.DSN, config.BusyTimeout, inMemory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return newSQLiteStorage(db), nil
}

func newSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

func isSQLiteMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteConnString turns a path or file: URI into a modernc DSN carrying the
// pragmas the store relies on.
func sqliteConnString(dsn string, busyTimeout time.Duration, inMemory bool) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if !inMemory {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Append writes a terminal record
func (ss *SQLiteStorage) Append(ctx context.Context, record *models.VisitRecord) error {
	if err := validateTerminal(record); err != nil {
		return err
	}

	if _, err := ss.db.ExecContext(ctx,
		`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES (?, ?, ?, ?, ?, ?)`,
		toUnixMicro(record.Timestamp), record.ClientAddress, record.UserAgent, string(record.VisitorType), record.Details, record.SessionKey,
	); err != nil {
		return fmt.Errorf("failed to append visit: %w", err)
	}
	return nil
}

// BeginVisit inserts an unclassified record unless one is live for the session key
func (ss *SQLiteStorage) BeginVisit(ctx context.Context, record *models.VisitRecord) (bool, error) {
	if err := validateProvisional(record); err != nil {
		return false, err
	}

	res, err := ss.db.ExecContext(ctx,
		`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		toUnixMicro(record.Timestamp), record.ClientAddress, record.UserAgent, string(record.VisitorType), record.Details, record.SessionKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to begin visit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to begin visit: %w", err)
	}
	return n == 1, nil
}

// Resolve deletes the newest provisional record for sessionKey and inserts
// its terminal replacement in one transaction.
func (ss *SQLiteStorage) Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string, at time.Time) (*models.VisitRecord, bool, error) {
	if !verdict.IsTerminal() {
		return nil, false, ErrNotTerminal
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pending, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`DELETE FROM visits WHERE id = (
			SELECT id FROM visits
			WHERE session_key = ? AND visitor_type = 'unclassified'
			ORDER BY ts DESC, id DESC LIMIT 1
		) RETURNING `+sqliteColumns,
		sessionKey,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to remove pending visit: %w", err)
	}

	resolved := pending.Upgrade(at, verdict, details)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO visits (ts, client_address, user_agent, visitor_type, details, session_key) VALUES (?, ?, ?, ?, ?, ?)`,
		toUnixMicro(resolved.Timestamp), resolved.ClientAddress, resolved.UserAgent, string(resolved.VisitorType), resolved.Details, resolved.SessionKey,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert resolved visit: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		resolved.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit resolve: %w", err)
	}
	return resolved, true, nil
}

// Query returns records matching filter
func (ss *SQLiteStorage) Query(ctx context.Context, filter Filter) ([]*models.VisitRecord, error) {
	query, args := buildSelect(sqliteColumns, filter, func(int) string { return "?" })
	return ss.queryRecords(ctx, query, args...)
}

// PendingBefore returns unclassified records older than cutoff, oldest first
func (ss *SQLiteStorage) PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error) {
	return ss.queryRecords(ctx,
		`SELECT `+sqliteColumns+` FROM visits WHERE visitor_type = 'unclassified' AND ts < ? ORDER BY ts ASC, id ASC`,
		toUnixMicro(cutoff),
	)
}

// Clear removes every record
func (ss *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := ss.db.ExecContext(ctx, `DELETE FROM visits`); err != nil {
		return fmt.Errorf("failed to clear visits: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func (ss *SQLiteStorage) queryRecords(ctx context.Context, query string, args ...any) ([]*models.VisitRecord, error) {
	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	records := make([]*models.VisitRecord, 0)
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
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

// buildSelect renders a filtered select. placeholder returns the bind marker
// for the n-th argument (1-based).
func buildSelect(columns string, filter Filter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, "visitor_type = "+placeholder(len(args)))
	}
	if filter.SessionKey != "" {
		args = append(args, filter.SessionKey)
		where = append(where, "session_key = "+placeholder(len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM visits")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.Oldest {
		b.WriteString(" ORDER BY ts ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY ts DESC, id DESC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT " + placeholder(len(args)))
	}
	return b.String(), args
}
