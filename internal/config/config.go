// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"time"

	"github.com/quarrydata/marketplace-crawler/internal/storage"
	loader "github.com/quarrydata/marketplace-crawler/pkg/config"
)

const envPrefix = "MARKETCRAWL"

const defaultUserAgent = "marketcrawl/1.0 (+https://github.com/quarrydata/marketplace-crawler)"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server. Enabled decides
// whether a crawl run also serves the run API alongside; the serve command
// ignores it and always listens.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// CrawlerConfig governs pacing, retries and admission for a run.
type CrawlerConfig struct {
	RequestsPerSecond       float64 `mapstructure:"requests_per_second"`
	MaxConcurrentRequests   int     `mapstructure:"max_concurrent_requests"`
	MaxRetries              int     `mapstructure:"max_retries"`
	RetryInitialWaitSeconds float64 `mapstructure:"retry_initial_wait_seconds"`
	RetryMaxWaitSeconds     float64 `mapstructure:"retry_max_wait_seconds"`
	RetryJitter             bool    `mapstructure:"retry_jitter"`
	UserAgent               string  `mapstructure:"user_agent"`
	RespectRobots           bool    `mapstructure:"respect_robots"`
	MaxPages                int     `mapstructure:"max_pages"`
	RetryFailed             bool    `mapstructure:"retry_failed"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// CheckpointConfig controls resume state persistence.
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SitemapConfig names the discovery endpoints and optional classifier
// pattern overrides. Empty patterns keep the built-in marketplace layout.
type SitemapConfig struct {
	URL             string `mapstructure:"url"`
	FallbackURL     string `mapstructure:"fallback_url"`
	ProfilePattern  string `mapstructure:"profile_pattern"`
	CategoryPattern string `mapstructure:"category_pattern"`
	ListingPattern  string `mapstructure:"listing_pattern"`
	HelpPattern     string `mapstructure:"help_pattern"`
}

// DetectorConfig tunes the headless promotion heuristics.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// HeadlessConfig configures the rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
}

// StorageConfig selects the blob backend for raw-page archival.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	ArchiveMode string `mapstructure:"archive_mode"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to the relational store. An empty DSN
// keeps records and run history in memory.
type DatabaseConfig struct {
	DSN                 string `mapstructure:"dsn"`
	RecordsTable        string `mapstructure:"records_table"`
	MaxConns            int    `mapstructure:"max_conns"`
	MinConns            int    `mapstructure:"min_conns"`
	ConnLifetimeMinutes int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for persisted-record notifications. An empty
// project ID disables the cloud publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the event hub and toggles its sinks.
type ProgressConfig struct {
	BufferSize         int  `mapstructure:"buffer_size"`
	BatchEvents        int  `mapstructure:"batch_events"`
	BatchWaitSeconds   int  `mapstructure:"batch_wait_seconds"`
	SinkTimeoutSeconds int  `mapstructure:"sink_timeout_seconds"`
	LogSink            bool `mapstructure:"log_sink"`
	PrometheusSink     bool `mapstructure:"prometheus_sink"`
	StoreSink          bool `mapstructure:"store_sink"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. An empty path probes the
// working directory, /etc/marketcrawl/ and $HOME/.marketcrawl for a file
// named config.*; an explicit path must exist.
func Load(path string) (Config, error) {
	var cfg Config
	err := loader.Load(loader.Options{
		EnvPrefix:   envPrefix,
		File:        path,
		SearchPaths: []string{".", "/etc/marketcrawl/", "$HOME/.marketcrawl"},
		Defaults:    defaults(),
	}, &cfg)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"server.enabled":                     false,
		"server.port":                        8080,
		"crawler.requests_per_second":        1.0,
		"crawler.max_concurrent_requests":    5,
		"crawler.max_retries":                3,
		"crawler.retry_initial_wait_seconds": 2.0,
		"crawler.retry_max_wait_seconds":     30.0,
		"crawler.retry_jitter":               true,
		"crawler.user_agent":                 defaultUserAgent,
		"crawler.respect_robots":             true,
		"crawler.max_pages":                  0,
		"crawler.retry_failed":               false,
		"http.timeout_seconds":               15,
		"http.max_body_bytes":                5 * 1024 * 1024,
		"checkpoint.enabled":                 true,
		"checkpoint.path":                    "crawl_checkpoint.json",
		"sitemap.fallback_url":               "",
		"detector.min_html_bytes":            2048,
		"headless.enabled":                   false,
		"headless.max_parallel":              2,
		"headless.nav_timeout_seconds":       25,
		"headless.domain_qps":                0.5,
		"storage.backend":                    "local",
		"storage.archive_mode":               "failures",
		"storage.local_dir":                  "data/pages",
		"storage.prefix":                     "raw-pages",
		"database.records_table":             "crawl_records",
		"database.max_conns":                 4,
		"database.min_conns":                 0,
		"database.conn_lifetime_minutes":     30,
		"pubsub.topic":                       "crawl-records",
		"progress.buffer_size":               1024,
		"progress.batch_events":              256,
		"progress.batch_wait_seconds":        1,
		"progress.sink_timeout_seconds":      10,
		"progress.log_sink":                  true,
		"progress.prometheus_sink":           true,
		"progress.store_sink":                true,
		"logging.development":                true,
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Sitemap.URL == "" {
		return fmt.Errorf("sitemap.url is required")
	}
	if c.Crawler.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawler.requests_per_second must be > 0")
	}
	if c.Crawler.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("crawler.max_concurrent_requests must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path must be set when checkpointing is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "local", "gcs", "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if _, err := storage.ParseMode(c.Storage.ArchiveMode); err != nil {
		return fmt.Errorf("storage.archive_mode: %w", err)
	}
	return nil
}

// HTTPTimeout returns the per-request client budget.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxAttempts converts crawler.max_retries, which counts retries after the
// first try, into the total invocation bound the retry policy expects.
func (c Config) MaxAttempts() int {
	return c.Crawler.MaxRetries + 1
}

// RetryInitialWait returns the first backoff delay.
func (c Config) RetryInitialWait() time.Duration {
	return secondsToDuration(c.Crawler.RetryInitialWaitSeconds)
}

// RetryMaxWait returns the backoff ceiling.
func (c Config) RetryMaxWait() time.Duration {
	return secondsToDuration(c.Crawler.RetryMaxWaitSeconds)
}

// NavTimeout returns the per-page render budget.
func (h HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(h.NavTimeoutSeconds) * time.Second
}

// ConnLifetime bounds pooled connection reuse.
func (d DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(d.ConnLifetimeMinutes) * time.Minute
}

// BatchWait returns the hub flush interval.
func (p ProgressConfig) BatchWait() time.Duration {
	return time.Duration(p.BatchWaitSeconds) * time.Second
}

// SinkTimeout bounds a single sink delivery.
func (p ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(p.SinkTimeoutSeconds) * time.Second
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
