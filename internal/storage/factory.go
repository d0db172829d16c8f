package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ghostwall/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - memory: In-memory storage (for testing/development)
//   - sqlite: SQLite database storage (default, single node)
//   - postgres: PostgreSQL database storage (shared between replicas)
func (f *Factory) Create(config models.StorageConfig) (Store, error) {
	storageConfig := Config{
		Type:            config.Type,
		DSN:             config.Database.DSN,
		MaxOpenConns:    config.Database.MaxOpenConns,
		MaxIdleConns:    config.Database.MaxIdleConns,
		ConnMaxLifetime: config.Database.ConnMaxLifetime,
		BusyTimeout:     config.Database.BusyTimeout,
	}

	var (
		store Store
		err   error
	)
	switch config.Type {
	case models.StorageTypeMemory:
		store, err = NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		store, err = NewPostgresStorage(storageConfig)
	case models.StorageTypeSQLite:
		if err := ensureSQLiteDir(storageConfig.DSN); err != nil {
			return nil, err
		}
		store, err = NewSQLiteStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeMemory, models.StorageTypePostgres, models.StorageTypeSQLite}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}

// ensureSQLiteDir creates the parent directory of a file-backed database.
func ensureSQLiteDir(dsn string) error {
	if isSQLiteMemoryDSN(dsn) {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
