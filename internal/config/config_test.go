package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ghostwall/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "ghostwall.yaml")

	configContent := `
server:
  port: 8081
  host: "127.0.0.1"
  read_timeout: 5s

storage:
  type: "memory"

security:
  admin_key: "secret-admin"
  session_secret: "hmac-secret"

rate_limit:
  enabled: true
  limit: 5
  window: 10s
  cleanup_interval: 1m
  log_hits: false

detection:
  keywords: ["bot", "scrapy"]
  expected_headers: ["User-Agent", "Accept"]
  critical_headers: ["User-Agent"]
  missing_threshold: 2
  honeypot_path: "/wp-login.php"

classification:
  sweep_interval: 2s
  pending_timeout: 7s
  store_timeout: 500ms

logging:
  level: "debug"
  format: "text"
  output: "stderr"

metrics:
  enabled: false
`

	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)

	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)

	assert.Equal(t, "secret-admin", config.Security.AdminKey)
	assert.Equal(t, "hmac-secret", config.Security.SessionSecret)

	assert.Equal(t, 5, config.RateLimit.Limit)
	assert.Equal(t, 10*time.Second, config.RateLimit.Window)
	assert.False(t, config.RateLimit.LogHits)

	assert.Equal(t, []string{"bot", "scrapy"}, config.Detection.Keywords)
	assert.Equal(t, []string{"User-Agent"}, config.Detection.CriticalHeaders)
	assert.Equal(t, 2, config.Detection.MissingThreshold)
	assert.Equal(t, "/wp-login.php", config.Detection.HoneypotPath)

	assert.Equal(t, 2*time.Second, config.Classification.SweepInterval)
	assert.Equal(t, 7*time.Second, config.Classification.PendingTimeout)
	assert.Equal(t, 500*time.Millisecond, config.Classification.StoreTimeout)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.NewDefaultConfig().RateLimit, config.RateLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [unclosed"), 0644))

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("rate_limit:\n  limit: -1\n"), 0644))

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_MovedKeysAreIgnored(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "moved.yaml")
	content := `
storage:
  type: memory
  path: ./log.csv
security:
  rate_limit:
    enabled: true
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GHOSTWALL_PORT", "9000")
	t.Setenv("GHOSTWALL_STORAGE_TYPE", "memory")
	t.Setenv("GHOSTWALL_ADMIN_KEY", "env-admin")
	t.Setenv("GHOSTWALL_RATE_LIMIT", "42")
	t.Setenv("GHOSTWALL_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("GHOSTWALL_RATE_LIMIT_LOG_HITS", "false")
	t.Setenv("GHOSTWALL_BOT_KEYWORDS", "bot, crawler ,,spider")
	t.Setenv("GHOSTWALL_PENDING_TIMEOUT", "45s")
	t.Setenv("GHOSTWALL_LOG_LEVEL", "warn")
	t.Setenv("GHOSTWALL_ENVIRONMENT", "staging")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "env-admin", config.Security.AdminKey)
	assert.Equal(t, 42, config.RateLimit.Limit)
	assert.Equal(t, 2*time.Minute, config.RateLimit.Window)
	assert.False(t, config.RateLimit.LogHits)
	assert.Equal(t, []string{"bot", "crawler", "spider"}, config.Detection.Keywords)
	assert.Equal(t, 45*time.Second, config.Classification.PendingTimeout)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "staging", config.Observability.Environment)
}

func TestLoadFromEnvironment_PortFallback(t *testing.T) {
	t.Setenv("PORT", "5000")

	config := models.NewDefaultConfig()
	loadFromEnvironment(config)
	assert.Equal(t, 5000, config.Server.Port)

	t.Setenv("GHOSTWALL_PORT", "6000")
	config = models.NewDefaultConfig()
	loadFromEnvironment(config)
	assert.Equal(t, 6000, config.Server.Port)
}

func TestLoadFromEnvironment_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("GHOSTWALL_PORT", "not-a-number")
	t.Setenv("GHOSTWALL_SWEEP_INTERVAL", "soon")

	config := models.NewDefaultConfig()
	loadFromEnvironment(config)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 10*time.Second, config.Classification.SweepInterval)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ghostwall.yaml")
	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "admin_key")
	assert.Contains(t, string(data), "honeypot_path")
}
