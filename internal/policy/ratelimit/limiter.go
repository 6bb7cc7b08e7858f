// Package ratelimit implements the token bucket that paces navigations.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerMinute is the number of tokens granted per Interval. Zero or less disables limiting.
	PerMinute int
	// Burst is the bucket size. Defaults to PerMinute so a fresh limiter can
	// spend a full minute's budget up front.
	Burst int
	// Interval is the refill window. Defaults to one minute; tests shrink it.
	Interval time.Duration
}

// Limiter grants one token per navigation.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.PerMinute
	}
	every := rate.Every(interval / time.Duration(cfg.PerMinute))
	return &Limiter{limiter: rate.NewLimiter(every, burst)}
}

// Wait blocks until a token is available, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(duration)
	}
	return nil
}
