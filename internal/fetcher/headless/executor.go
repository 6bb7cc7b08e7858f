package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
)

// Operation runs against a tab that has already loaded the requested URL.
type Operation func(ctx context.Context, tab Tab) error

// Waiter blocks until one navigation may proceed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLauncher replaces the chromedp launcher.
func WithLauncher(launch Launcher) Option {
	return func(e *Executor) {
		if launch != nil {
			e.launch = launch
		}
	}
}

// WithClock replaces the clock used for retry backoff.
func WithClock(clock crawler.Clock) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLimiter replaces the navigation rate limiter.
func WithLimiter(limiter Waiter) Option {
	return func(e *Executor) {
		if limiter != nil {
			e.limiter = limiter
		}
	}
}

// WithRetryPolicy replaces the navigation retry policy.
func WithRetryPolicy(policy crawler.RetryPolicy) Option {
	return func(e *Executor) {
		if policy != nil {
			e.retry = policy
		}
	}
}

// Executor implements crawler.Executor on top of a Browser.
type Executor struct {
	cfg     Config
	logger  *zap.Logger
	launch  Launcher
	clock   crawler.Clock
	limiter Waiter
	retry   crawler.RetryPolicy
	slots   *semaphore.Weighted

	mu          sync.Mutex
	initialized bool
	closed      bool
	browser     Browser
	pool        *tabPool
}

var _ crawler.Executor = (*Executor)(nil)

// New builds an executor. Call Initialize before use.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		cfg:     cfg,
		logger:  logger,
		launch:  LaunchChromedp,
		clock:   system.New(),
		limiter: ratelimit.New(ratelimit.Config{PerMinute: cfg.RateLimitPerMinute}),
		retry:   crawler.NewExponentialRetryPolicy(cfg.MaxRetries),
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize launches the browser and pre-warms the tab pool. Calling it
// again after success is a no-op.
func (e *Executor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return crawler.ErrExecutorClosed
	}
	if e.initialized {
		return nil
	}

	browser, err := e.launch(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("initialize executor: %w", err)
	}
	pool := newTabPool(e.cfg.PoolSize)
	for i := 0; i < e.cfg.Prewarm; i++ {
		tab, tabErr := browser.NewTab(ctx)
		if tabErr != nil {
			for _, t := range pool.drain() {
				e.disposeTab(t)
			}
			if closeErr := browser.Close(); closeErr != nil {
				e.logger.Warn("browser close failed", zap.Error(closeErr))
			}
			return fmt.Errorf("prewarm tab: %w", tabErr)
		}
		pool.track(tab)
		pool.put(tab)
	}

	e.browser = browser
	e.pool = pool
	e.initialized = true
	e.logger.Info("executor initialized",
		zap.Int("max_concurrent", e.cfg.MaxConcurrent),
		zap.Int("rate_limit_per_minute", e.cfg.RateLimitPerMinute),
		zap.Int("pool_size", e.cfg.PoolSize),
		zap.Int("prewarmed", e.cfg.Prewarm),
	)
	return nil
}

// Execute navigates a pooled tab to rawURL (when non-empty) and runs op on
// it. Navigation failures surface as *crawler.NetworkError once retries are
// exhausted; op errors are returned unchanged.
func (e *Executor) Execute(ctx context.Context, rawURL string, op Operation) error {
	browser, pool, err := e.state()
	if err != nil {
		return err
	}
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire executor slot: %w", err)
	}
	defer e.slots.Release(1)
	metrics.IncActiveOperations()
	defer metrics.DecActiveOperations()

	tab, err := e.acquireTab(ctx, browser, pool)
	if err != nil {
		return err
	}
	defer func() {
		e.releaseTab(pool, tab)
	}()

	if rawURL != "" {
		tab, err = e.navigate(ctx, browser, pool, tab, rawURL)
		if err != nil {
			return err
		}
	}
	if op == nil {
		return nil
	}
	return op(ctx, tab)
}

// FetchHTML navigates to rawURL and returns the rendered markup.
func (e *Executor) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	var html string
	err := e.Execute(ctx, rawURL, func(ctx context.Context, tab Tab) error {
		out, err := tab.HTML(ctx)
		if err != nil {
			return fmt.Errorf("read html %s: %w", rawURL, err)
		}
		html = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

// Close disposes every tab and the browser. Cleanup failures are logged.
// The executor cannot be used afterwards.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	browser, pool := e.browser, e.pool
	e.browser, e.pool = nil, nil
	e.mu.Unlock()

	if pool != nil {
		for _, tab := range pool.drain() {
			e.disposeTab(tab)
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			e.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	e.logger.Info("executor closed")
}

func (e *Executor) state() (Browser, *tabPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, crawler.ErrExecutorClosed
	}
	if !e.initialized {
		return nil, nil, crawler.ErrExecutorNotInitialized
	}
	return e.browser, e.pool, nil
}

func (e *Executor) acquireTab(ctx context.Context, browser Browser, pool *tabPool) (Tab, error) {
	tab, stale := pool.get()
	for _, t := range stale {
		e.disposeTab(t)
	}
	if tab != nil {
		return tab, nil
	}
	return e.openTab(ctx, browser, pool)
}

func (e *Executor) openTab(ctx context.Context, browser Browser, pool *tabPool) (Tab, error) {
	tab, err := browser.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	pool.track(tab)
	return tab, nil
}

// navigate spends one rate token per attempt and swaps in a fresh tab when
// the current one has died. The returned tab is the one the caller now owns.
func (e *Executor) navigate(ctx context.Context, browser Browser, pool *tabPool, tab Tab, rawURL string) (Tab, error) {
	current := tab
	err := crawler.Retry(ctx, rawURL, e.retry, e.clock, func(ctx context.Context, attempt int) error {
		if current == nil || !current.Alive() {
			if current != nil {
				e.logger.Debug("replacing dead tab", zap.String("url", rawURL), zap.Int("attempt", attempt))
				pool.forget(current)
				e.disposeTab(current)
				current = nil
			}
			fresh, err := e.openTab(ctx, browser, pool)
			if err != nil {
				return err
			}
			current = fresh
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := current.Navigate(ctx, rawURL); err != nil {
			metrics.ObserveNavigation(rawURL, "error")
			e.logger.Warn("navigation attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		metrics.ObserveNavigation(rawURL, "success")
		return nil
	})
	if err == nil {
		return current, nil
	}

	cause := err
	var scrapeErr *crawler.ScrapingError
	if errors.As(err, &scrapeErr) {
		cause = scrapeErr.Err
	}
	return current, &crawler.NetworkError{URL: rawURL, Attempts: crawler.AttemptCount(err), Err: cause}
}

// releaseTab resets tab and returns it to the pool, or disposes it when it
// is dead, fails to reset, or the pool is full. It never fails.
func (e *Executor) releaseTab(pool *tabPool, tab Tab) {
	if tab == nil {
		return
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed || !tab.Alive() {
		pool.forget(tab)
		e.disposeTab(tab)
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	err := tab.Stop(stopCtx)
	cancel()
	if err != nil {
		e.logger.Debug("tab reset failed; disposing", zap.Error(err))
		pool.forget(tab)
		e.disposeTab(tab)
		return
	}
	if !pool.put(tab) {
		e.disposeTab(tab)
	}
}

func (e *Executor) disposeTab(tab Tab) {
	if err := tab.Close(); err != nil {
		e.logger.Debug("tab close failed", zap.Error(err))
	}
}

