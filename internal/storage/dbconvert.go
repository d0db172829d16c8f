package storage

import (
	"fmt"
	"time"

	"ghostwall/internal/models"

	"github.com/jackc/pgx/v5/pgtype"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// SQLite keeps timestamps as integer microseconds since the Unix epoch so
// that ORDER BY ts is chronological.
func toUnixMicro(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromUnixMicro(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func toPgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func fromPgTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}

// scanSQLiteRecord reads the column order used by every SQLite select:
// id, ts, client_address, user_agent, visitor_type, details, session_key.
func scanSQLiteRecord(row rowScanner) (*models.VisitRecord, error) {
	var (
		r   models.VisitRecord
		ts  int64
		typ string
	)
	if err := row.Scan(&r.ID, &ts, &r.ClientAddress, &r.UserAgent, &typ, &r.Details, &r.SessionKey); err != nil {
		return nil, err
	}
	return finishRecord(&r, fromUnixMicro(ts), typ)
}

// scanPgRecord is the PostgreSQL counterpart of scanSQLiteRecord.
func scanPgRecord(row rowScanner) (*models.VisitRecord, error) {
	var (
		r   models.VisitRecord
		ts  pgtype.Timestamptz
		typ string
	)
	if err := row.Scan(&r.ID, &ts, &r.ClientAddress, &r.UserAgent, &typ, &r.Details, &r.SessionKey); err != nil {
		return nil, err
	}
	return finishRecord(&r, fromPgTimestamptz(ts), typ)
}

func finishRecord(r *models.VisitRecord, ts time.Time, typ string) (*models.VisitRecord, error) {
	visitorType, err := models.ParseVisitorType(typ)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", r.ID, err)
	}
	r.Timestamp = ts
	r.VisitorType = visitorType
	return r, nil
}
