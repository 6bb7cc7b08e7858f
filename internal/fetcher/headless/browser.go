// Package headless runs page operations against a pool of browser tabs
// under a concurrency bound, a navigation rate budget and retry.
package headless

import (
	"context"
	"time"
)

// Tab is one reusable browser page.
type Tab interface {
	// Navigate loads rawURL and waits for the document to be ready.
	Navigate(ctx context.Context, rawURL string) error
	// HTML returns the rendered document markup.
	HTML(ctx context.Context) (string, error)
	// Stop aborts any pending load so the tab can be reused.
	Stop(ctx context.Context) error
	// Alive reports whether the tab can still accept commands.
	Alive() bool
	// Close disposes the tab. Safe to call more than once.
	Close() error
}

// Browser opens tabs on a single browser process.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Launcher starts a Browser for cfg.
type Launcher func(ctx context.Context, cfg Config) (Browser, error)

// Config controls the behavior of the executor and the browser it drives.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be present before a navigation counts as loaded.
	WaitSelector string
	// MaxConcurrent bounds simultaneously running operations.
	MaxConcurrent int
	// RateLimitPerMinute bounds navigations per minute. Zero disables pacing.
	RateLimitPerMinute int
	// MaxRetries is the total number of navigation attempts per operation.
	MaxRetries int
	// PoolSize caps how many idle tabs are kept for reuse.
	PoolSize int
	// Prewarm is how many tabs Initialize opens up front.
	Prewarm int
	// BlockResources stops images, fonts, stylesheets and media from loading.
	BlockResources     bool
	BlockedURLPatterns []string
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
	defaultMaxConcurrent     = 5
	defaultMaxRetries        = 3
	defaultPoolSize          = 20
)

var defaultBlockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.css",
	"*.mp4", "*.webm", "*.mp3", "*.ogg",
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.Prewarm < 0 {
		c.Prewarm = 0
	}
	if c.Prewarm > c.PoolSize {
		c.Prewarm = c.PoolSize
	}
	if c.BlockResources && len(c.BlockedURLPatterns) == 0 {
		c.BlockedURLPatterns = append([]string(nil), defaultBlockedURLPatterns...)
	}
	return c
}
