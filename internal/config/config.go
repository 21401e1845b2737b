// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ACQUIRER_DB_DSN.
const EnvPrefix = "ACQUIRER"

// Archive and event backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Sites    SitesConfig    `mapstructure:"sites"`
	AI       AIConfig       `mapstructure:"ai"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig guards the API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig holds run-wide politeness settings.
type CrawlerConfig struct {
	UserAgent           string  `mapstructure:"user_agent"`
	RateLimitSeconds    float64 `mapstructure:"rate_limit_seconds"`
	MaxDepthDefault     int     `mapstructure:"max_depth_default"`
	RespectRobots       bool    `mapstructure:"respect_robots"`
	RobotsScheme        string  `mapstructure:"robots_scheme"`
	FetchTimeoutSeconds int     `mapstructure:"fetch_timeout_seconds"`
}

// HTTPConfig tunes static fetching.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// HeadlessConfig tunes the rendered scraper.
type HeadlessConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	MaxParallel           int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	WaitForTimeoutSeconds int    `mapstructure:"wait_for_timeout_seconds"`
	ExecPath              string `mapstructure:"exec_path"`
	NoSandbox             bool   `mapstructure:"no_sandbox"`
}

// DBConfig configures Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// SitesConfig locates the site config directory.
type SitesConfig struct {
	Dir string `mapstructure:"dir"`
}

// AIConfig configures the ai parser. An empty key disables it.
type AIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	MaxTokens       int64  `mapstructure:"max_tokens"`
	MaxContentChars int    `mapstructure:"max_content_chars"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects where job events go.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PipelineConfig bounds job execution.
type PipelineConfig struct {
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
	Workers           int `mapstructure:"workers"`
	QueueDepth        int `mapstructure:"queue_depth"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads optional file path, applies ACQUIRER_* overrides and defaults,
// and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.user_agent", "SiteAcquirer/1.0")
	v.SetDefault("crawler.rate_limit_seconds", 1.0)
	v.SetDefault("crawler.max_depth_default", 5)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_scheme", "https")
	v.SetDefault("crawler.fetch_timeout_seconds", 30)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.wait_for_timeout_seconds", 30)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.conn_max_lifetime_seconds", 1800)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("sites.dir", "configs/sites")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.max_content_chars", 15000)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")
	v.SetDefault("pipeline.run_timeout_seconds", 3600)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate performs basic sanity checks on the loaded configuration.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	case c.Crawler.RateLimitSeconds < 0:
		return fmt.Errorf("crawler.rate_limit_seconds must be >= 0")
	case c.Crawler.MaxDepthDefault <= 0:
		return fmt.Errorf("crawler.max_depth_default must be > 0")
	case c.HTTP.TimeoutSeconds <= 0:
		return fmt.Errorf("http.timeout_seconds must be > 0")
	case c.HTTP.MaxRetries <= 0:
		return fmt.Errorf("http.max_retries must be > 0")
	case c.Headless.Enabled && c.Headless.MaxParallel <= 0:
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	case c.Pipeline.Workers <= 0:
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	switch c.Events.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend %q is not one of none, memory, pubsub", c.Events.Backend)
	}
	return nil
}

// RateLimit is the per-domain crawl spacing.
func (c CrawlerConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitSeconds * float64(time.Second))
}

// RunTimeout bounds one pipeline job; zero disables the bound.
func (c PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ConnMaxLifetime is the pool connection lifetime.
func (c DBConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}
