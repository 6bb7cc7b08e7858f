package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is repeated.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt may follow attempt (1-based).
	ShouldRetry(err error, attempt int) bool
	// Backoff returns the wait before the attempt that follows attempt (1-based).
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy doubles the delay after every failure up to a cap.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
)

// NewExponentialRetryPolicy builds a policy allowing maxAttempts total
// attempts with delays of min(1s * 2^n, 10s).
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	return NewExponentialRetryPolicyWithDelays(maxAttempts, defaultBaseDelay, defaultMaxDelay)
}

// NewExponentialRetryPolicyWithDelays is NewExponentialRetryPolicy with explicit delays.
func NewExponentialRetryPolicyWithDelays(maxAttempts int, base, limit time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if base < 0 {
		base = 0
	}
	if limit < base {
		limit = base
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    limit,
	}
}

// MaxAttempts returns the total number of attempts allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrExecutorClosed) || errors.Is(err, ErrExecutorNotInitialized) {
		return false
	}
	var parseErr *ParseError
	return !errors.As(err, &parseErr)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	if delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

// Retry calls fn until it succeeds or policy gives up, sleeping on clock
// between attempts. Giving up yields a *ScrapingError carrying the attempt
// count and the last error.
func Retry(
	ctx context.Context,
	rawURL string,
	policy RetryPolicy,
	clock Clock,
	fn func(ctx context.Context, attempt int) error,
) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !policy.ShouldRetry(err, attempt) {
			return &ScrapingError{URL: rawURL, Attempts: attempt, Err: err}
		}
		if sleepErr := clock.Sleep(ctx, policy.Backoff(attempt)); sleepErr != nil {
			return &ScrapingError{URL: rawURL, Attempts: attempt, Err: fmt.Errorf("retry backoff: %w", sleepErr)}
		}
	}
}
