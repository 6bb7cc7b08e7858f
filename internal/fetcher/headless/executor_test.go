package headless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func newTestExecutor(t *testing.T, cfg Config, browser *fakeBrowser, opts ...Option) (*Executor, *countingLimiter, *instantClock) {
	t.Helper()
	limiter := &countingLimiter{}
	clock := &instantClock{}
	base := []Option{WithLauncher(browser.launcher()), WithLimiter(limiter), WithClock(clock)}
	exec := New(cfg, zap.NewNop(), append(base, opts...)...)
	require.NoError(t, exec.Initialize(context.Background()))
	t.Cleanup(exec.Close)
	return exec, limiter, clock
}

func TestExecutorRequiresInitialize(t *testing.T) {
	t.Parallel()

	exec := New(Config{}, zap.NewNop(), WithLauncher((&fakeBrowser{}).launcher()))
	_, err := exec.FetchHTML(context.Background(), "https://example.org")
	require.ErrorIs(t, err, crawler.ErrExecutorNotInitialized)
}

func TestExecutorInitializeIsIdempotentAndPrewarms(t *testing.T) {
	t.Parallel()

	launches := 0
	browser := &fakeBrowser{}
	launch := func(ctx context.Context, cfg Config) (Browser, error) {
		launches++
		return browser, nil
	}
	exec := New(Config{Prewarm: 3, PoolSize: 5}, zap.NewNop(), WithLauncher(launch))
	require.NoError(t, exec.Initialize(context.Background()))
	require.NoError(t, exec.Initialize(context.Background()))
	require.Equal(t, 1, launches)
	require.Len(t, browser.opened(), 3)
	require.Equal(t, 3, exec.pool.idleCount())
	exec.Close()
}

func TestExecutorInitializeLaunchFailure(t *testing.T) {
	t.Parallel()

	exec := New(Config{}, zap.NewNop(), WithLauncher(func(context.Context, Config) (Browser, error) {
		return nil, errors.New("no chrome")
	}))
	err := exec.Initialize(context.Background())
	require.ErrorContains(t, err, "no chrome")
}

func TestExecutorInitializePrewarmFailureClosesBrowser(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{newErr: errors.New("target crashed")}
	exec := New(Config{Prewarm: 2}, zap.NewNop(), WithLauncher(browser.launcher()))
	require.Error(t, exec.Initialize(context.Background()))
	require.Equal(t, int32(1), browser.closed.Load())
}

func TestExecutorFetchHTMLReusesTabs(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, limiter, _ := newTestExecutor(t, Config{MaxConcurrent: 2}, browser)

	for i := 0; i < 3; i++ {
		html, err := exec.FetchHTML(context.Background(), "https://example.org/item")
		require.NoError(t, err)
		require.Contains(t, html, "tab")
	}
	require.Len(t, browser.opened(), 1, "sequential operations share one pooled tab")
	require.Equal(t, int32(3), limiter.waits.Load(), "one token per navigation")
	require.Equal(t, int32(3), browser.stops.Load(), "tab is reset on every release")
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, _, _ := newTestExecutor(t, Config{MaxConcurrent: 2}, browser)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exec.Execute(context.Background(), "https://example.org", func(context.Context, Tab) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.LessOrEqual(t, len(browser.opened()), 2)
}

func TestExecutorRetriesNavigation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	browser := &fakeBrowser{navFn: func(*fakeTab, string) error {
		if calls.Add(1) < 3 {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		return nil
	}}
	exec, limiter, clock := newTestExecutor(t, Config{MaxRetries: 3}, browser)

	ran := false
	err := exec.Execute(context.Background(), "https://example.org/a", func(context.Context, Tab) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, int32(3), limiter.waits.Load())
	require.Equal(t, int32(2), clock.sleeps.Load())
}

func TestExecutorNavigationExhaustionIsNetworkError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("net::ERR_NAME_NOT_RESOLVED")
	browser := &fakeBrowser{navFn: func(*fakeTab, string) error { return sentinel }}
	exec, _, _ := newTestExecutor(t, Config{MaxRetries: 3}, browser)

	ran := false
	err := exec.Execute(context.Background(), "https://example.org/a", func(context.Context, Tab) error {
		ran = true
		return nil
	})
	var netErr *crawler.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, "https://example.org/a", netErr.URL)
	require.Equal(t, 3, netErr.Attempts)
	require.ErrorIs(t, err, sentinel)
	require.False(t, ran)

	// The slot was released: another call still gets through.
	browser.navFn = nil
	_, err = exec.FetchHTML(context.Background(), "https://example.org/b")
	require.NoError(t, err)
}

func TestExecutorReplacesDeadTabMidNavigation(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	browser.navFn = func(tab *fakeTab, _ string) error {
		if tab.id == 1 {
			tab.dead.Store(true)
			return errors.New("target closed")
		}
		return nil
	}
	exec, _, _ := newTestExecutor(t, Config{MaxRetries: 3}, browser)

	_, err := exec.FetchHTML(context.Background(), "https://example.org")
	require.NoError(t, err)

	tabs := browser.opened()
	require.Len(t, tabs, 2)
	require.Positive(t, tabs[0].closed.Load(), "dead tab disposed")
	require.Equal(t, 1, exec.pool.idleCount(), "replacement tab returned to pool")
}

func TestExecutorOperationErrorPropagatesUnchanged(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, _, _ := newTestExecutor(t, Config{}, browser)

	opErr := &crawler.ParseError{URL: "https://example.org", Fields: []string{"title"}, Err: crawler.ErrMissingField}
	err := exec.Execute(context.Background(), "https://example.org", func(context.Context, Tab) error {
		return opErr
	})
	require.Same(t, opErr, err)
	require.Equal(t, 1, exec.pool.idleCount(), "tab released after operation failure")
}

func TestExecutorDisposesOverCapacityTabs(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, _, _ := newTestExecutor(t, Config{MaxConcurrent: 3, PoolSize: 1}, browser)

	start := make(chan struct{})
	var wg sync.WaitGroup
	var inside sync.WaitGroup
	inside.Add(3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exec.Execute(context.Background(), "https://example.org", func(context.Context, Tab) error {
				inside.Done()
				<-start
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	inside.Wait()
	close(start)
	wg.Wait()

	tabs := browser.opened()
	require.Len(t, tabs, 3)
	closed := 0
	for _, tab := range tabs {
		if tab.closed.Load() > 0 {
			closed++
		}
	}
	require.Equal(t, 2, closed)
	require.Equal(t, 1, exec.pool.idleCount())
}

func TestExecutorDisposesTabWhenResetFails(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{stopErr: errors.New("stop failed")}
	exec, _, _ := newTestExecutor(t, Config{}, browser)

	_, err := exec.FetchHTML(context.Background(), "https://example.org")
	require.NoError(t, err, "release never fails the operation")
	require.Zero(t, exec.pool.idleCount())
	require.Positive(t, browser.opened()[0].closed.Load())
}

func TestExecutorCloseDisposesEverything(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec := New(Config{Prewarm: 2}, zap.NewNop(), WithLauncher(browser.launcher()), WithLimiter(&countingLimiter{}))
	require.NoError(t, exec.Initialize(context.Background()))

	exec.Close()
	exec.Close()

	require.Equal(t, int32(1), browser.closed.Load(), "browser close errors are swallowed")
	for _, tab := range browser.opened() {
		require.Positive(t, tab.closed.Load())
	}
	_, err := exec.FetchHTML(context.Background(), "https://example.org")
	require.ErrorIs(t, err, crawler.ErrExecutorClosed)
	require.ErrorIs(t, exec.Initialize(context.Background()), crawler.ErrExecutorClosed)
}

func TestExecutorExecuteWithoutURLSkipsNavigation(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, limiter, _ := newTestExecutor(t, Config{}, browser)

	require.NoError(t, exec.Execute(context.Background(), "", func(context.Context, Tab) error { return nil }))
	require.Zero(t, limiter.waits.Load())
}

func TestExecutorSlotWaitHonorsContext(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	exec, _, _ := newTestExecutor(t, Config{MaxConcurrent: 1}, browser)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = exec.Execute(context.Background(), "", func(context.Context, Tab) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := exec.Execute(ctx, "", func(context.Context, Tab) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
