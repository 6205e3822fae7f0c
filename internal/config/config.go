// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Firecrawl   FirecrawlConfig   `mapstructure:"firecrawl"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Reducer     ReducerConfig     `mapstructure:"reducer"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Progress    ProgressConfig    `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AcquisitionConfig governs the fetch stage of a run.
type AcquisitionConfig struct {
	MaxSuccessfulFetches       int `mapstructure:"max_successful_fetches"`
	MaxConcurrentFetchJobs     int `mapstructure:"max_concurrent_fetch_jobs"`
	SequentialRateLimitSeconds int `mapstructure:"sequential_rate_limit_seconds"`
}

// ValidationConfig controls URL probing.
type ValidationConfig struct {
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxAccept       int     `mapstructure:"max_accept"`
	Workers         int     `mapstructure:"workers"`
	MaxContentBytes int64   `mapstructure:"max_content_bytes"`
	PerHostRPS      float64 `mapstructure:"per_host_rps"`
	UserAgent       string  `mapstructure:"user_agent"`
}

// FetcherConfig selects providers and size limits for content retrieval.
type FetcherConfig struct {
	Primary          string `mapstructure:"primary"`
	Fallback         string `mapstructure:"fallback"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	PrimaryMaxChars  int    `mapstructure:"primary_max_chars"`
	FallbackMaxChars int    `mapstructure:"fallback_max_chars"`
	MinContentChars  int    `mapstructure:"min_content_chars"`
	UserAgent        string `mapstructure:"user_agent"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
}

// FirecrawlConfig holds the scraping API credentials.
type FirecrawlConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// HeadlessConfig configures the headless rendering provider.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// ReducerConfig bounds reduced content.
type ReducerConfig struct {
	MaxChars     int `mapstructure:"max_chars"`
	MinLineChars int `mapstructure:"min_line_chars"`
}

// CacheConfig selects and tunes the profile cache store.
type CacheConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	TTLSeconds   int64  `mapstructure:"ttl_seconds"`
	SingleFlight bool   `mapstructure:"single_flight"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// SourcesConfig holds credentials for candidate URL sources.
type SourcesConfig struct {
	SerperAPIKey        string   `mapstructure:"serper_api_key"`
	SerperBaseURL       string   `mapstructure:"serper_base_url"`
	SerperResults       int      `mapstructure:"serper_results"`
	SerperNewsResults   int      `mapstructure:"serper_news_results"`
	SerperCountry       string   `mapstructure:"serper_country"`
	SerperQueries       []string `mapstructure:"serper_queries"`
	PappersAPIKey       string   `mapstructure:"pappers_api_key"`
	PappersBaseURL      string   `mapstructure:"pappers_base_url"`
	PappersDetails      bool     `mapstructure:"pappers_details"`
	PappersPublications bool     `mapstructure:"pappers_publications"`
	StaticURLs          []string `mapstructure:"static_urls"`
}

// ArchiveConfig controls where raw bundles are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig controls completion notices.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	// Store is memory, postgres or none; postgres reuses cache.dsn unless DSN is set.
	Store          string `mapstructure:"store"`
	DSN            string `mapstructure:"dsn"`
	MaxRuns        int    `mapstructure:"max_runs"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MaxBatchEvents int    `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int    `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int    `mapstructure:"sink_timeout_ms"`
	LogEvents      bool   `mapstructure:"log_events"`
}

// Load builds a Config from disk/environment. Environment variables use the
// DOSSIER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOSSIER")
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
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("acquisition.max_successful_fetches", 3)
	v.SetDefault("acquisition.max_concurrent_fetch_jobs", 5)
	v.SetDefault("acquisition.sequential_rate_limit_seconds", 0)
	v.SetDefault("validation.timeout_seconds", 3)
	v.SetDefault("validation.max_accept", 20)
	v.SetDefault("validation.workers", 20)
	v.SetDefault("validation.max_content_bytes", 5*1024*1024)
	v.SetDefault("validation.per_host_rps", 0)
	v.SetDefault("validation.user_agent", "Mozilla/5.0 (compatible; dossier-crawler/1.0)")
	v.SetDefault("fetcher.primary", "firecrawl")
	v.SetDefault("fetcher.fallback", "colly")
	v.SetDefault("fetcher.timeout_seconds", 45)
	v.SetDefault("fetcher.primary_max_chars", 5000)
	v.SetDefault("fetcher.fallback_max_chars", 3000)
	v.SetDefault("fetcher.min_content_chars", 100)
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (compatible; dossier-crawler/1.0)")
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("firecrawl.api_key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("reducer.max_chars", 5000)
	v.SetDefault("reducer.min_line_chars", 20)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", "file:dossier-cache.db?_pragma=busy_timeout(5000)")
	v.SetDefault("cache.table", "profile_cache")
	v.SetDefault("cache.ttl_seconds", 604800)
	v.SetDefault("cache.single_flight", true)
	v.SetDefault("cache.max_conns", 4)
	v.SetDefault("sources.serper_api_key", "")
	v.SetDefault("sources.serper_base_url", "https://google.serper.dev")
	v.SetDefault("sources.serper_results", 30)
	v.SetDefault("sources.serper_news_results", 20)
	v.SetDefault("sources.serper_country", "fr")
	v.SetDefault("sources.serper_queries", []string{})
	v.SetDefault("sources.pappers_api_key", "")
	v.SetDefault("sources.pappers_base_url", "https://api.pappers.fr/v2")
	v.SetDefault("sources.pappers_details", true)
	v.SetDefault("sources.pappers_publications", false)
	v.SetDefault("sources.static_urls", []string{})
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.prefix", "bundles")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("progress.store", "memory")
	v.SetDefault("progress.dsn", "")
	v.SetDefault("progress.max_runs", 1000)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.log_events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Acquisition.MaxSuccessfulFetches <= 0 {
		return fmt.Errorf("acquisition.max_successful_fetches must be > 0")
	}
	if c.Acquisition.MaxConcurrentFetchJobs < 0 {
		return fmt.Errorf("acquisition.max_concurrent_fetch_jobs must be >= 0")
	}
	if c.Acquisition.SequentialRateLimitSeconds < 0 {
		return fmt.Errorf("acquisition.sequential_rate_limit_seconds must be >= 0")
	}
	if c.Validation.TimeoutSeconds <= 0 {
		return fmt.Errorf("validation.timeout_seconds must be > 0")
	}
	if c.Validation.Workers <= 0 {
		return fmt.Errorf("validation.workers must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if !oneOf(c.Fetcher.Primary, "firecrawl", "colly") {
		return fmt.Errorf("fetcher.primary must be firecrawl or colly, got %q", c.Fetcher.Primary)
	}
	if !oneOf(c.Fetcher.Fallback, "", "none", "colly", "headless") {
		return fmt.Errorf("fetcher.fallback must be none, colly or headless, got %q", c.Fetcher.Fallback)
	}
	if c.Fetcher.Primary == c.Fetcher.Fallback {
		return fmt.Errorf("fetcher.fallback must differ from fetcher.primary")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if !oneOf(c.Cache.Driver, "sqlite", "postgres", "memory") {
		return fmt.Errorf("cache.driver must be sqlite, postgres or memory, got %q", c.Cache.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.DSN == "" {
		return fmt.Errorf("cache.dsn is required for driver %s", c.Cache.Driver)
	}
	if !oneOf(c.Archive.Backend, "", "none", "memory", "local", "gcs") {
		return fmt.Errorf("archive.backend must be none, memory, local or gcs, got %q", c.Archive.Backend)
	}
	if c.Archive.Backend == "gcs" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required for the gcs backend")
	}
	if c.Archive.Backend == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir is required for the local backend")
	}
	if !oneOf(c.Notify.Backend, "", "none", "memory", "pubsub") {
		return fmt.Errorf("notify.backend must be none, memory or pubsub, got %q", c.Notify.Backend)
	}
	if c.Notify.Backend == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub backend")
	}
	if !oneOf(c.Progress.Store, "", "none", "memory", "postgres") {
		return fmt.Errorf("progress.store must be none, memory or postgres, got %q", c.Progress.Store)
	}
	if c.Progress.Store == "postgres" && c.Progress.PostgresDSN(c.Cache) == "" {
		return fmt.Errorf("progress.dsn is required for the postgres run store")
	}
	return nil
}

// PostgresDSN resolves the run store DSN, falling back to the cache DSN when the
// cache also lives in Postgres.
func (c ProgressConfig) PostgresDSN(cache CacheConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	if cache.Driver == "postgres" {
		return cache.DSN
	}
	return ""
}

// SinkTimeout converts the per-sink flush timeout into a duration.
func (c ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}

// Sequential reports whether fetches run one at a time.
func (c AcquisitionConfig) Sequential() bool {
	return c.MaxConcurrentFetchJobs <= 1
}

// SequentialInterval is the pacing between sequential dispatches.
func (c AcquisitionConfig) SequentialInterval() time.Duration {
	return time.Duration(c.SequentialRateLimitSeconds) * time.Second
}

// Timeout converts the probe timeout into a duration.
func (c ValidationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout converts the fetch timeout into a duration.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL converts the cache TTL into a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MaxBatchWait converts the progress flush interval into a duration.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

func oneOf(value string, options ...string) bool {
	for _, opt := range options {
		if value == opt {
			return true
		}
	}
	return false
}
