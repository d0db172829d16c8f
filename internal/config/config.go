package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ghostwall/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// movedConfig mirrors keys that used to live elsewhere in the file.
type movedConfig struct {
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
		Honeypot  string      `yaml:"honeypot_path"`
	} `yaml:"security"`
}

// warnMovedKeys logs a warning for each relocated key found in the YAML data.
// The service still starts; the old keys are ignored by the main decoder.
func warnMovedKeys(data []byte) {
	var moved movedConfig
	if err := yaml.Unmarshal(data, &moved); err != nil {
		return
	}
	if moved.Storage.Path != "" {
		slog.Warn("Config key is no longer used; set storage.database.dsn instead.", "config_key", "storage.path")
	}
	if moved.Security.RateLimit != nil {
		slog.Warn("Config key has moved to the top-level rate_limit section.", "config_key", "security.rate_limit")
	}
	if moved.Security.Honeypot != "" {
		slog.Warn("Config key has moved to detection.honeypot_path.", "config_key", "security.honeypot_path")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnMovedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from GHOSTWALL_* environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	setInt("GHOSTWALL_PORT", &config.Server.Port)
	setString("GHOSTWALL_HOST", &config.Server.Host)
	setDuration("GHOSTWALL_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("GHOSTWALL_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration("GHOSTWALL_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	setBool("GHOSTWALL_TLS_ENABLED", &config.Server.TLSEnabled)
	setString("GHOSTWALL_TLS_CERT_FILE", &config.Server.TLSCertFile)
	setString("GHOSTWALL_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// PORT is honoured for platforms that inject it.
	if os.Getenv("GHOSTWALL_PORT") == "" {
		setInt("PORT", &config.Server.Port)
	}

	// Storage configuration
	setString("GHOSTWALL_STORAGE_TYPE", &config.Storage.Type)
	setString("GHOSTWALL_DATABASE_DSN", &config.Storage.Database.DSN)
	setInt("GHOSTWALL_DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	setInt("GHOSTWALL_DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	setDuration("GHOSTWALL_DATABASE_BUSY_TIMEOUT", &config.Storage.Database.BusyTimeout)

	// Security configuration
	setString("GHOSTWALL_ADMIN_KEY", &config.Security.AdminKey)
	setString("GHOSTWALL_SESSION_SECRET", &config.Security.SessionSecret)
	setBool("GHOSTWALL_COOKIE_SECURE", &config.Security.CookieSecure)
	setBool("GHOSTWALL_TRUST_FORWARDED_FOR", &config.Security.TrustForwardedFor)

	// Rate limiting
	setBool("GHOSTWALL_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	setInt("GHOSTWALL_RATE_LIMIT", &config.RateLimit.Limit)
	setDuration("GHOSTWALL_RATE_LIMIT_WINDOW", &config.RateLimit.Window)
	setDuration("GHOSTWALL_RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)
	setBool("GHOSTWALL_RATE_LIMIT_LOG_HITS", &config.RateLimit.LogHits)

	// Detection
	setList("GHOSTWALL_BOT_KEYWORDS", &config.Detection.Keywords)
	setList("GHOSTWALL_EXPECTED_HEADERS", &config.Detection.ExpectedHeaders)
	setList("GHOSTWALL_CRITICAL_HEADERS", &config.Detection.CriticalHeaders)
	setInt("GHOSTWALL_MISSING_HEADER_THRESHOLD", &config.Detection.MissingThreshold)
	setString("GHOSTWALL_HONEYPOT_PATH", &config.Detection.HoneypotPath)

	// Classification
	setDuration("GHOSTWALL_SWEEP_INTERVAL", &config.Classification.SweepInterval)
	setDuration("GHOSTWALL_PENDING_TIMEOUT", &config.Classification.PendingTimeout)
	setDuration("GHOSTWALL_STORE_TIMEOUT", &config.Classification.StoreTimeout)

	// Logging configuration
	setString("GHOSTWALL_LOG_LEVEL", &config.Logging.Level)
	setString("GHOSTWALL_LOG_FORMAT", &config.Logging.Format)
	setString("GHOSTWALL_LOG_OUTPUT", &config.Logging.Output)
	setString("GHOSTWALL_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	setBool("GHOSTWALL_METRICS_ENABLED", &config.Metrics.Enabled)
	setString("GHOSTWALL_METRICS_PATH", &config.Metrics.Path)
	setInt("GHOSTWALL_METRICS_PORT", &config.Metrics.Port)
	setBool("GHOSTWALL_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	setString("GHOSTWALL_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	setString("GHOSTWALL_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	setString("GHOSTWALL_ENVIRONMENT", &config.Observability.Environment)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setList parses a comma-separated value, dropping blank entries.
func setList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
}

// SaveExample writes the default configuration as an example YAML file.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Security.AdminKey = "change-me"
	config.Security.SessionSecret = "change-me-too"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
