package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func newPostgresTestStorage(t *testing.T) Store {
	t.Helper()
	s, err := NewPostgresStorage(Config{DSN: getPostgresDSN(t)})
	require.NoError(t, err)
	require.NoError(t, s.Clear(context.Background()))
	t.Cleanup(func() {
		s.Clear(context.Background())
		s.Close()
	})
	return s
}

func TestPostgresStorageConnectionError(t *testing.T) {
	_, err := NewPostgresStorage(Config{DSN: ""})
	assert.Error(t, err)
}

func TestPostgresStorageInvalidDSN(t *testing.T) {
	_, err := NewPostgresStorage(Config{DSN: "postgres://invalid:5432/nonexistent?connect_timeout=1"})
	assert.Error(t, err)
}

func TestPostgresStorage(t *testing.T) {
	testStoreContract(t, newPostgresTestStorage)
}
