// Package config provides configuration management for the research index service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the research index service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Sources contains external source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Sync contains ingestion and citation sync settings.
	Sync SyncConfig `mapstructure:"sync"`
	// Documents contains document download settings.
	Documents DocumentsConfig `mapstructure:"documents"`
	// Scheduler contains background schedule settings.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// SourcesConfig holds external source API configurations.
type SourcesConfig struct {
	// Publications contains the publication source API settings.
	Publications PublicationSourceConfig `mapstructure:"publications"`
	// Crossref contains the citation registry settings.
	Crossref CrossrefConfig `mapstructure:"crossref"`
}

// PublicationSourceConfig holds settings for the remote publication API.
type PublicationSourceConfig struct {
	// BaseURL is the publication API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey authenticates requests to the publication API.
	APIKey string `mapstructure:"-"`
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// PageSize is the number of records fetched per page.
	PageSize int `mapstructure:"page_size"`
	// CacheTTL is how long successful responses are cached in memory.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheSize is the maximum number of cached responses.
	CacheSize int `mapstructure:"cache_size"`
}

// CrossrefConfig holds settings for the Crossref citation registry.
type CrossrefConfig struct {
	// BaseURL is the Crossref REST API base URL.
	BaseURL string `mapstructure:"base_url"`
	// MailTo identifies the service to Crossref's polite pool.
	MailTo string `mapstructure:"mail_to"`
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second (Crossref asks for <=10).
	RateLimit float64 `mapstructure:"rate_limit"`
	// CacheTTL is how long successful responses are cached in memory.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheSize is the maximum number of cached responses.
	CacheSize int `mapstructure:"cache_size"`
}

// SyncConfig holds ingestion and citation sync behavior settings.
type SyncConfig struct {
	// CitationCooldown is the minimum age of a citation count before it is
	// re-fetched (default: 168h).
	CitationCooldown time.Duration `mapstructure:"citation_cooldown"`
	// PageFailureLimit is the number of consecutive failed pages before an
	// ingestion run aborts.
	PageFailureLimit int `mapstructure:"page_failure_limit"`
	// DownloadDocuments enables document download during scheduled runs.
	DownloadDocuments bool `mapstructure:"download_documents"`
}

// DocumentsConfig holds document download settings.
type DocumentsConfig struct {
	// Dir is the directory where downloaded documents are stored.
	Dir string `mapstructure:"dir"`
	// Timeout is the download request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxSize is the maximum document size in bytes.
	MaxSize int64 `mapstructure:"max_size"`
	// UserAgent is the User-Agent header for download requests.
	UserAgent string `mapstructure:"user_agent"`
	// AllowPrivateNetworks permits downloads from private IP ranges (tests only).
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// SchedulerConfig holds background schedule settings.
type SchedulerConfig struct {
	// Enabled enables the daily sync schedule.
	Enabled bool `mapstructure:"enabled"`
	// SyncSpec is the cron expression for the daily ingestion run.
	SyncSpec string `mapstructure:"sync_spec"`
	// CitationSpec is the cron expression for the citation sync pass.
	CitationSpec string `mapstructure:"citation_spec"`
	// StatsSpec is the cron expression for the stats recalculation pass.
	StatsSpec string `mapstructure:"stats_spec"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("RESEARCHINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-index")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("RESEARCHINDEX_DATABASE_PASSWORD")
	cfg.Sources.Publications.APIKey = os.Getenv("RESEARCHINDEX_SOURCES_PUBLICATIONS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "researchindex")
	v.SetDefault("database.name", "research_index")
	// Default to "require" for production security. Use RESEARCHINDEX_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Publication source defaults
	v.SetDefault("sources.publications.base_url", "https://api.publications.example.com/v1")
	v.SetDefault("sources.publications.timeout", "30s")
	v.SetDefault("sources.publications.rate_limit", 2.0)
	v.SetDefault("sources.publications.page_size", 50)
	v.SetDefault("sources.publications.cache_ttl", "6h")
	v.SetDefault("sources.publications.cache_size", 512)

	// Crossref defaults
	v.SetDefault("sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("sources.crossref.mail_to", "")
	v.SetDefault("sources.crossref.timeout", "30s")
	v.SetDefault("sources.crossref.rate_limit", 10.0)
	v.SetDefault("sources.crossref.cache_ttl", "6h")
	v.SetDefault("sources.crossref.cache_size", 2048)

	// Sync defaults
	v.SetDefault("sync.citation_cooldown", "168h")
	v.SetDefault("sync.page_failure_limit", 3)
	v.SetDefault("sync.download_documents", false)

	// Document download defaults
	v.SetDefault("documents.dir", "documents")
	v.SetDefault("documents.timeout", "60s")
	v.SetDefault("documents.max_size", 52428800) // 50 MiB
	v.SetDefault("documents.user_agent", "research-index/1.0")
	v.SetDefault("documents.allow_private_networks", false)

	// Scheduler defaults: nightly ingestion at 02:00 server time.
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sync_spec", "0 2 * * *")
	v.SetDefault("scheduler.citation_spec", "0 4 * * *")
	v.SetDefault("scheduler.stats_spec", "30 5 * * *")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate source config
	if c.Sources.Publications.BaseURL == "" {
		return fmt.Errorf("publication source base URL is required")
	}
	if c.Sources.Publications.PageSize <= 0 {
		return fmt.Errorf("publication source page size must be positive")
	}
	if c.Sources.Crossref.BaseURL == "" {
		return fmt.Errorf("crossref base URL is required")
	}
	if c.Sources.Crossref.RateLimit <= 0 {
		return fmt.Errorf("crossref rate limit must be positive")
	}

	// Validate sync config
	if c.Sync.CitationCooldown < 0 {
		return fmt.Errorf("citation cooldown must not be negative")
	}
	if c.Sync.PageFailureLimit <= 0 {
		return fmt.Errorf("page failure limit must be positive")
	}

	// Validate document config
	if c.Documents.MaxSize <= 0 {
		return fmt.Errorf("document max size must be positive")
	}

	return nil
}
