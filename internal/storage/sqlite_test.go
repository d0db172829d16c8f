package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ghostwall/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestStorage(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStorage(Config{DSN: filepath.Join(t.TempDir(), "visits.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	testStoreContract(t, newSQLiteTestStorage)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	s, err := NewSQLiteStorage(Config{DSN: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	created, err := s.BeginVisit(ctx, pendingVisit("k1", t0))
	require.NoError(t, err)
	assert.True(t, created)

	// A single connection keeps every statement on the same database.
	pending, err := s.PendingBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLiteStorage_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")
	ctx := context.Background()

	s, err := NewSQLiteStorage(Config{DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, models.NewVisitRecord(t0, "a", "ua", models.VisitorBot, "x", "")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(Config{DSN: path})
	require.NoError(t, err)
	defer s.Close()

	all, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "x", all[0].Details)
}

func TestNewSQLiteStorage_EmptyDSN(t *testing.T) {
	_, err := NewSQLiteStorage(Config{})
	assert.Error(t, err)
}

func TestSQLiteConnString(t *testing.T) {
	dsn := sqliteConnString("./data/ghostwall.db", 2*time.Second, false)
	assert.Contains(t, dsn, "file:./data/ghostwall.db?")
	assert.Contains(t, dsn, "_pragma=busy_timeout(2000)")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "journal_mode(WAL)")

	dsn = sqliteConnString("file:test.db?cache=shared", 0, false)
	assert.Contains(t, dsn, "file:test.db?cache=shared&")
	assert.Contains(t, dsn, "busy_timeout(5000)")

	dsn = sqliteConnString(":memory:", time.Second, true)
	assert.NotContains(t, dsn, "WAL")
}

func newMockSQLite(t *testing.T) (*SQLiteStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newSQLiteStorage(db), mock
}

func TestSQLiteStorage_ResolveRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockSQLite(t)

	rows := sqlmock.NewRows([]string{"id", "ts", "client_address", "user_agent", "visitor_type", "details", "session_key"}).
		AddRow(int64(7), toUnixMicro(t0), "203.0.113.7", "Mozilla/5.0", "unclassified", models.DetailsPendingConfirmation, "k1")

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM visits").WithArgs("k1").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO visits").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	rec, ok, err := s.Resolve(context.Background(), "k1", models.VisitorHuman, "", t0.Add(time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.False(t, ok)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStorage_ResolveMissRollsBack(t *testing.T) {
	s, mock := newMockSQLite(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM visits").WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "client_address", "user_agent", "visitor_type", "details", "session_key"}))
	mock.ExpectRollback()

	rec, ok, err := s.Resolve(context.Background(), "k1", models.VisitorBot, models.DetailsTimeout, t0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStorage_ResolveCommitFailure(t *testing.T) {
	s, mock := newMockSQLite(t)

	rows := sqlmock.NewRows([]string{"id", "ts", "client_address", "user_agent", "visitor_type", "details", "session_key"}).
		AddRow(int64(7), toUnixMicro(t0), "203.0.113.7", "Mozilla/5.0", "unclassified", models.DetailsPendingConfirmation, "k1")

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM visits").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO visits").WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, ok, err := s.Resolve(context.Background(), "k1", models.VisitorHuman, "", t0.Add(time.Second))
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStorage_BeginTxFailure(t *testing.T) {
	s, mock := newMockSQLite(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, _, err := s.Resolve(context.Background(), "k1", models.VisitorHuman, "", t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
}

func TestSQLiteStorage_AppendFailure(t *testing.T) {
	s, mock := newMockSQLite(t)
	mock.ExpectExec("INSERT INTO visits").WillReturnError(errors.New("readonly database"))

	err := s.Append(context.Background(), models.NewVisitRecord(t0, "a", "ua", models.VisitorBot, "x", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append visit")
}

func TestSQLiteStorage_QueryRejectsUnknownVisitorType(t *testing.T) {
	s, mock := newMockSQLite(t)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id", "ts", "client_address", "user_agent", "visitor_type", "details", "session_key"}).
			AddRow(int64(1), toUnixMicro(t0), "a", "ua", "robot", "", "none"),
	)

	_, err := s.Query(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown visitor type")
}

func TestBuildSelect(t *testing.T) {
	query, args := buildSelect("id", Filter{Type: models.VisitorBot, SessionKey: "k", Limit: 10}, func(int) string { return "?" })
	assert.Equal(t, "SELECT id FROM visits WHERE visitor_type = ? AND session_key = ? ORDER BY ts DESC, id DESC LIMIT ?", query)
	assert.Equal(t, []any{"bot", "k", 10}, args)

	query, args = buildSelect("id", Filter{Oldest: true}, func(int) string { return "?" })
	assert.Equal(t, "SELECT id FROM visits ORDER BY ts ASC, id ASC", query)
	assert.Empty(t, args)
}
