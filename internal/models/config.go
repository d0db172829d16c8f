// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every ghostwall component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, detection, etc.)
// - Defaults that work out of the box for a single modest-traffic site
// - Validation catches misconfigurations before the server starts
// - Detection lists and logging policy are data, not code
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Visit log persistence
// - Security: Admin key, session secret and cookie settings
// - RateLimit: Sliding-window limiter
// - Detection: Keyword denylist, header checks, honeypot
// - Classification: Deferred verdict timing
// - Logging, Metrics, Observability: Operational concerns
type Config struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Storage        StorageConfig        `yaml:"storage" json:"storage"`
	Security       SecurityConfig       `yaml:"security" json:"security"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Detection      DetectionConfig      `yaml:"detection" json:"detection"`
	Classification ClassificationConfig `yaml:"classification" json:"classification"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Observability  ObservabilityConfig  `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

type SecurityConfig struct {
	// AdminKey guards destructive dashboard actions. Empty disables them.
	AdminKey string `yaml:"admin_key" json:"-"`
	// SessionSecret signs continuity tokens. A random secret is generated at
	// startup when empty, which invalidates pending visits across restarts.
	SessionSecret string `yaml:"session_secret" json:"-"`
	CookieSecure  bool   `yaml:"cookie_secure" json:"cookie_secure"`
	// TrustForwardedFor selects the first X-Forwarded-For entry as the client address.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" json:"trust_forwarded_for"`
}

type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Limit           int           `yaml:"limit" json:"limit"`
	Window          time.Duration `yaml:"window" json:"window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	IdleTTL         time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
	// LogHits controls whether a rate-limited request writes a bot record.
	LogHits bool `yaml:"log_hits" json:"log_hits"`
}

type DetectionConfig struct {
	Keywords        []string `yaml:"keywords" json:"keywords"`
	ExpectedHeaders []string `yaml:"expected_headers" json:"expected_headers"`
	CriticalHeaders []string `yaml:"critical_headers" json:"critical_headers"`
	// MissingThreshold flags a request once this many expected headers are
	// absent, even if every critical header is present. Zero disables it.
	MissingThreshold int      `yaml:"missing_threshold" json:"missing_threshold"`
	HoneypotPath     string   `yaml:"honeypot_path" json:"honeypot_path"`
	ExemptPaths      []string `yaml:"exempt_paths" json:"exempt_paths"`
}

type ClassificationConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	PendingTimeout time.Duration `yaml:"pending_timeout" json:"pending_timeout"`
	StoreTimeout   time.Duration `yaml:"store_timeout" json:"store_timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Environment is reported as deployment.environment on every span and metric.
	Environment string        `yaml:"environment" json:"environment"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultKeywords is the user-agent denylist used when none is configured.
// Earlier entries are reported first when several match, so vendor names
// precede the generic tokens they usually appear alongside.
var DefaultKeywords = []string{
	"google", "bing", "baidu", "yandex", "duckduckgo", "slurp",
	"gpt", "openai", "anthropic", "claude", "perplexity", "ccbot",
	"headless", "phantom", "selenium", "puppeteer", "playwright",
	"curl", "wget", "python", "httpclient", "go-http-client",
	"bot", "crawler", "spider", "crawl",
}

// NewDefaultConfig creates a configuration with ready-to-run defaults.
//
// Default Values Rationale:
// - 20 requests per 60s window per client address
// - Sweep every 10s, promote provisional visits older than 30s
// - SQLite file storage so the visit log survives restarts
// - Dashboard, export, health and static routes bypass the filter
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeSQLite,
			Database: DatabaseConfig{
				DSN:             "./data/ghostwall.db",
				MaxOpenConns:    8,
				MaxIdleConns:    4,
				ConnMaxLifetime: 30 * time.Minute,
				BusyTimeout:     5 * time.Second,
			},
		},
		Security: SecurityConfig{
			TrustForwardedFor: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Limit:           20,
			Window:          60 * time.Second,
			CleanupInterval: 5 * time.Minute,
			IdleTTL:         10 * time.Minute,
			LogHits:         true,
		},
		Detection: DetectionConfig{
			Keywords:         append([]string(nil), DefaultKeywords...),
			ExpectedHeaders:  []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"},
			CriticalHeaders:  []string{"User-Agent", "Accept", "Accept-Language"},
			MissingThreshold: 0,
			HoneypotPath:     "/honeypot",
			ExemptPaths: []string{
				"/health", "/log", "/log.json", "/log.csv", "/stats",
				"/admin/clear", "/static/",
			},
		},
		Classification: ClassificationConfig{
			SweepInterval:  10 * time.Second,
			PendingTimeout: 30 * time.Second,
			StoreTimeout:   2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ghostwall",
			Environment: "development",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}

	if err := c.Classification.Validate(); err != nil {
		return fmt.Errorf("invalid classification config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Database.MaxOpenConns < 0 || stc.Database.MaxIdleConns < 0 {
		return errors.New("connection limits cannot be negative")
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if rc.Window <= 0 {
		return errors.New("window must be positive")
	}
	if rc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if rc.IdleTTL > 0 && rc.IdleTTL < rc.Window {
		return errors.New("idle TTL cannot be shorter than the window")
	}
	return nil
}

func (dc *DetectionConfig) Validate() error {
	for _, k := range dc.Keywords {
		if strings.TrimSpace(k) == "" {
			return errors.New("keywords cannot contain empty entries")
		}
	}

	for _, c := range dc.CriticalHeaders {
		if !containsFold(dc.ExpectedHeaders, c) {
			return fmt.Errorf("critical header %s is not an expected header", c)
		}
	}

	if dc.MissingThreshold < 0 || dc.MissingThreshold > len(dc.ExpectedHeaders) {
		return errors.New("missing threshold must be between 0 and the number of expected headers")
	}

	if dc.HoneypotPath != "" && !strings.HasPrefix(dc.HoneypotPath, "/") {
		return errors.New("honeypot path must start with /")
	}

	return nil
}

func (cc *ClassificationConfig) Validate() error {
	if cc.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if cc.PendingTimeout <= 0 {
		return errors.New("pending timeout must be positive")
	}
	if cc.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}
	if !oc.Tracing.Enabled {
		return nil
	}
	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", oc.Tracing.Exporter)
	}
	return nil
}

func containsFold(list []string, item string) bool {
	for _, s := range list {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
