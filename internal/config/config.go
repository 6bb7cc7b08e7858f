// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Output   OutputConfig   `mapstructure:"output"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig selects the catalog and bounds pagination.
type CrawlConfig struct {
	SeedURL       string `mapstructure:"seed_url"`
	MaxPages      int    `mapstructure:"max_pages"`
	RunID         string `mapstructure:"run_id"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	IdleWaitMinMs int    `mapstructure:"idle_wait_min_ms"`
	IdleWaitMaxMs int    `mapstructure:"idle_wait_max_ms"`
}

// BrowserConfig configures the headless browser and its tab pool.
type BrowserConfig struct {
	Headless           bool     `mapstructure:"headless"`
	UserAgent          string   `mapstructure:"user_agent"`
	NavTimeoutSeconds  int      `mapstructure:"nav_timeout_seconds"`
	WaitSelector       string   `mapstructure:"wait_selector"`
	PoolSize           int      `mapstructure:"pool_size"`
	Prewarm            int      `mapstructure:"prewarm"`
	BlockResources     bool     `mapstructure:"block_resources"`
	BlockedURLPatterns []string `mapstructure:"blocked_url_patterns"`
}

// ExecutorConfig bounds fetch concurrency, rate and retries.
type ExecutorConfig struct {
	MaxConcurrent      int `mapstructure:"max_concurrent"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	MaxRetries         int `mapstructure:"max_retries"`
	BackoffInitialMs   int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
}

// QueueConfig selects the batch sizing policy.
type QueueConfig struct {
	AdaptiveBatching bool `mapstructure:"adaptive_batching"`
}

// ParserConfig holds CSS selectors for listing and detail pages.
type ParserConfig struct {
	ItemLink        string `mapstructure:"item_link"`
	NextPage        string `mapstructure:"next_page"`
	Title           string `mapstructure:"title"`
	Author          string `mapstructure:"author"`
	Recommendations string `mapstructure:"recommendations"`
}

// OutputConfig sets local file paths and the optional GCS upload target.
type OutputConfig struct {
	ResultsPath string `mapstructure:"results_path"`
	ErrorsPath  string `mapstructure:"errors_path"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSPrefix   string `mapstructure:"gcs_prefix"`
}

// DBConfig controls the optional Postgres sink.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	ResultsTable string `mapstructure:"results_table"`
	ErrorsTable  string `mapstructure:"errors_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for run summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the health/metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and optional file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds and validates a Config from disk/environment.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from disk/environment without validating it, so
// callers can layer command-line overrides before calling Validate.
func Read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.seed_url", "")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.run_id", "")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.idle_wait_min_ms", 50)
	v.SetDefault("crawl.idle_wait_max_ms", 1000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "catalog-crawler/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.wait_selector", "body")
	v.SetDefault("browser.pool_size", 20)
	v.SetDefault("browser.prewarm", 2)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.blocked_url_patterns", []string{})
	v.SetDefault("executor.max_concurrent", 5)
	v.SetDefault("executor.rate_limit_per_minute", 60)
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.backoff_initial_ms", 1000)
	v.SetDefault("executor.backoff_max_ms", 10000)
	v.SetDefault("queue.adaptive_batching", true)
	v.SetDefault("parser.item_link", "a.item-link")
	v.SetDefault("parser.next_page", "a[rel=next], li.next a")
	v.SetDefault("parser.title", "h1")
	v.SetDefault("parser.author", ".author")
	v.SetDefault("parser.recommendations", ".recommendations")
	v.SetDefault("output.results_path", "output/results.csv")
	v.SetDefault("output.errors_path", "output/errors.csv")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "crawls")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.results_table", "catalog_results")
	v.SetDefault("db.errors_table", "catalog_errors")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.SeedURL == "" {
		return fmt.Errorf("crawl.seed_url is required")
	}
	u, err := url.Parse(c.Crawl.SeedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawl.seed_url must be an absolute http(s) URL: %q", c.Crawl.SeedURL)
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.Crawl.IdleWaitMinMs <= 0 || c.Crawl.IdleWaitMaxMs < c.Crawl.IdleWaitMinMs {
		return fmt.Errorf("crawl.idle_wait_min_ms must be > 0 and <= crawl.idle_wait_max_ms")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return fmt.Errorf("executor.max_concurrent must be > 0")
	}
	if c.Executor.RateLimitPerMinute < 0 {
		return fmt.Errorf("executor.rate_limit_per_minute must be >= 0")
	}
	if c.Executor.MaxRetries <= 0 {
		return fmt.Errorf("executor.max_retries must be > 0")
	}
	if c.Executor.BackoffInitialMs <= 0 || c.Executor.BackoffMaxMs < c.Executor.BackoffInitialMs {
		return fmt.Errorf("executor.backoff_initial_ms must be > 0 and <= executor.backoff_max_ms")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Browser.Prewarm < 0 || c.Browser.Prewarm > c.Browser.PoolSize {
		return fmt.Errorf("browser.prewarm must be between 0 and browser.pool_size")
	}
	if c.Parser.ItemLink == "" || c.Parser.Title == "" || c.Parser.Author == "" {
		return fmt.Errorf("parser.item_link, parser.title and parser.author are required")
	}
	if c.Output.ResultsPath == "" || c.Output.ErrorsPath == "" {
		return fmt.Errorf("output.results_path and output.errors_path are required")
	}
	if c.Output.ResultsPath == c.Output.ErrorsPath {
		return fmt.Errorf("output.results_path and output.errors_path must differ")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be > 0 when logging.file is set")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// NavigationTimeout converts the browser timeout to a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff base and cap.
func (c Config) Backoff() (base, limit time.Duration) {
	return time.Duration(c.Executor.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Executor.BackoffMaxMs) * time.Millisecond
}

// IdleWait returns the detail loop's idle wait bounds.
func (c Config) IdleWait() (minWait, maxWait time.Duration) {
	return time.Duration(c.Crawl.IdleWaitMinMs) * time.Millisecond,
		time.Duration(c.Crawl.IdleWaitMaxMs) * time.Millisecond
}
