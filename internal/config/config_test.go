package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  seed_url: https://catalog.example/list
  max_pages: 12
browser:
  headless: false
  nav_timeout_seconds: 30
  pool_size: 8
  prewarm: 3
  blocked_url_patterns: ["*.png", "*.woff2"]
executor:
  max_concurrent: 6
  rate_limit_per_minute: 120
  max_retries: 4
  backoff_initial_ms: 500
  backoff_max_ms: 4000
queue:
  adaptive_batching: false
parser:
  item_link: a.book
  title: h2.title
  author: span.by
output:
  results_path: out/r.csv
  errors_path: out/e.csv
  gcs_bucket: bucket
pubsub:
  project_id: proj
  topic_name: crawls
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawl.SeedURL != "https://catalog.example/list" || cfg.Crawl.MaxPages != 12 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Browser.Headless || cfg.Browser.PoolSize != 8 || cfg.Browser.Prewarm != 3 {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if len(cfg.Browser.BlockedURLPatterns) != 2 || cfg.Browser.BlockedURLPatterns[1] != "*.woff2" {
		t.Fatalf("expected blocked patterns to load: %v", cfg.Browser.BlockedURLPatterns)
	}
	if cfg.Executor.MaxConcurrent != 6 || cfg.Executor.RateLimitPerMinute != 120 || cfg.Executor.MaxRetries != 4 {
		t.Fatalf("expected executor overrides to apply: %+v", cfg.Executor)
	}
	if cfg.Queue.AdaptiveBatching {
		t.Fatal("expected adaptive batching disabled")
	}
	if cfg.Parser.ItemLink != "a.book" || cfg.Parser.Recommendations != ".recommendations" {
		t.Fatalf("expected parser overrides merged with defaults: %+v", cfg.Parser)
	}
	if cfg.Output.GCSPrefix != "crawls" {
		t.Fatalf("expected default gcs prefix, got %q", cfg.Output.GCSPrefix)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if got := cfg.NavigationTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
	base, limit := cfg.Backoff()
	if base != 500*time.Millisecond || limit != 4*time.Second {
		t.Fatalf("unexpected backoff %v/%v", base, limit)
	}
}

func TestReadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Executor.MaxConcurrent != 5 || cfg.Executor.RateLimitPerMinute != 60 || cfg.Executor.MaxRetries != 3 {
		t.Fatalf("unexpected executor defaults: %+v", cfg.Executor)
	}
	if !cfg.Crawl.RespectRobots || cfg.Logging.File != "" || cfg.Logging.MaxSizeMB != 100 {
		t.Fatalf("unexpected crawl/logging defaults: %+v %+v", cfg.Crawl, cfg.Logging)
	}
	if !cfg.Browser.Headless || cfg.Browser.PoolSize != 20 || cfg.Browser.Prewarm != 2 {
		t.Fatalf("unexpected browser defaults: %+v", cfg.Browser)
	}
	minWait, maxWait := cfg.IdleWait()
	if minWait != 50*time.Millisecond || maxWait != time.Second {
		t.Fatalf("unexpected idle wait defaults %v/%v", minWait, maxWait)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "crawl.seed_url") {
		t.Fatalf("expected missing seed url to fail validation, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_CRAWL_SEED_URL", "https://catalog.example/start")
	t.Setenv("CRAWLER_EXECUTOR_MAX_CONCURRENT", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.SeedURL != "https://catalog.example/start" {
		t.Fatalf("expected env seed url, got %q", cfg.Crawl.SeedURL)
	}
	if cfg.Executor.MaxConcurrent != 9 {
		t.Fatalf("expected env concurrency 9, got %d", cfg.Executor.MaxConcurrent)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Read("")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	base.Crawl.SeedURL = "https://catalog.example/list"
	if err := base.Validate(); err != nil {
		t.Fatalf("expected defaults plus seed to validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"relative seed", func(c *Config) { c.Crawl.SeedURL = "/list" }, "crawl.seed_url"},
		{"negative max pages", func(c *Config) { c.Crawl.MaxPages = -1 }, "crawl.max_pages"},
		{"idle wait inverted", func(c *Config) { c.Crawl.IdleWaitMaxMs = 10 }, "crawl.idle_wait_min_ms"},
		{"zero concurrency", func(c *Config) { c.Executor.MaxConcurrent = 0 }, "executor.max_concurrent"},
		{"negative rate", func(c *Config) { c.Executor.RateLimitPerMinute = -1 }, "executor.rate_limit_per_minute"},
		{"zero retries", func(c *Config) { c.Executor.MaxRetries = 0 }, "executor.max_retries"},
		{"backoff inverted", func(c *Config) { c.Executor.BackoffMaxMs = 1 }, "executor.backoff_initial_ms"},
		{"zero nav timeout", func(c *Config) { c.Browser.NavTimeoutSeconds = 0 }, "browser.nav_timeout_seconds"},
		{"zero pool", func(c *Config) { c.Browser.PoolSize = 0 }, "browser.pool_size"},
		{"prewarm over pool", func(c *Config) { c.Browser.Prewarm = 21 }, "browser.prewarm"},
		{"missing title selector", func(c *Config) { c.Parser.Title = "" }, "parser.item_link"},
		{"same output paths", func(c *Config) { c.Output.ErrorsPath = c.Output.ResultsPath }, "must differ"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"log file without size", func(c *Config) { c.Logging.File = "crawl.log"; c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			c.Browser.BlockedURLPatterns = append([]string(nil), base.Browser.BlockedURLPatterns...)
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
