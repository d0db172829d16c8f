package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test server defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.False(t, config.Server.TLSEnabled)

	// Test storage defaults
	assert.Equal(t, StorageTypeSQLite, config.Storage.Type)
	assert.NotEmpty(t, config.Storage.Database.DSN)

	// Test rate limit defaults
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, 20, config.RateLimit.Limit)
	assert.Equal(t, 60*time.Second, config.RateLimit.Window)
	assert.True(t, config.RateLimit.LogHits)

	// Test detection defaults
	assert.Contains(t, config.Detection.Keywords, "bot")
	assert.Contains(t, config.Detection.Keywords, "google")
	assert.Equal(t, "/honeypot", config.Detection.HoneypotPath)
	assert.Contains(t, config.Detection.CriticalHeaders, "Accept")

	// Test classification defaults
	assert.Equal(t, 10*time.Second, config.Classification.SweepInterval)
	assert.Equal(t, 30*time.Second, config.Classification.PendingTimeout)

	// Test logging defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	require.NoError(t, config.Validate())
}

func TestNewDefaultConfig_KeywordsAreCopied(t *testing.T) {
	config := NewDefaultConfig()
	config.Detection.Keywords[0] = "changed"
	assert.Equal(t, "google", DefaultKeywords[0])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port must be between"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "host cannot be empty"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "TLS cert file"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "json" }, "invalid storage type"},
		{"sqlite without dsn", func(c *Config) { c.Storage.Database.DSN = "" }, "DSN is required"},
		{"zero limit", func(c *Config) { c.RateLimit.Limit = 0 }, "limit must be positive"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "window must be positive"},
		{"idle ttl shorter than window", func(c *Config) { c.RateLimit.IdleTTL = time.Second }, "idle TTL"},
		{"empty keyword", func(c *Config) { c.Detection.Keywords = []string{"bot", " "} }, "empty entries"},
		{"critical not expected", func(c *Config) { c.Detection.CriticalHeaders = []string{"X-Custom"} }, "not an expected header"},
		{"threshold too large", func(c *Config) { c.Detection.MissingThreshold = 99 }, "missing threshold"},
		{"relative honeypot", func(c *Config) { c.Detection.HoneypotPath = "trap" }, "honeypot path"},
		{"zero sweep interval", func(c *Config) { c.Classification.SweepInterval = 0 }, "sweep interval"},
		{"zero store timeout", func(c *Config) { c.Classification.StoreTimeout = 0 }, "store timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }, "file path is required"},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics port"},
		{"otlp without endpoint", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "otlp"
		}, "OTLP endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_RateLimitDisabledSkipsChecks(t *testing.T) {
	config := NewDefaultConfig()
	config.RateLimit.Enabled = false
	config.RateLimit.Limit = 0
	assert.NoError(t, config.Validate())
}

func TestConfigValidate_CriticalHeadersCaseInsensitive(t *testing.T) {
	config := NewDefaultConfig()
	config.Detection.CriticalHeaders = []string{"user-agent", "ACCEPT"}
	assert.NoError(t, config.Validate())
}

func TestConfigValidate_MemoryStorageNeedsNoDSN(t *testing.T) {
	config := NewDefaultConfig()
	config.Storage.Type = StorageTypeMemory
	config.Storage.Database.DSN = ""
	assert.NoError(t, config.Validate())
}
