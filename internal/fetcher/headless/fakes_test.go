package headless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeTab struct {
	id       int
	browser  *fakeBrowser
	dead     atomic.Bool
	closed   atomic.Int32
	stopErr  error
	navCalls atomic.Int32
}

func (t *fakeTab) Navigate(ctx context.Context, rawURL string) error {
	t.navCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.browser.navigate(t, rawURL)
}

func (t *fakeTab) HTML(context.Context) (string, error) {
	return "<html><body>tab</body></html>", nil
}

func (t *fakeTab) Stop(context.Context) error {
	t.browser.stops.Add(1)
	return t.stopErr
}

func (t *fakeTab) Alive() bool {
	return !t.dead.Load() && t.closed.Load() == 0
}

func (t *fakeTab) Close() error {
	t.closed.Add(1)
	return nil
}

type fakeBrowser struct {
	mu       sync.Mutex
	tabs     []*fakeTab
	newErr   error
	closed   atomic.Int32
	stops    atomic.Int32
	stopErr  error
	navDelay time.Duration
	// navFn decides the outcome of each navigation; nil means success.
	navFn func(tab *fakeTab, rawURL string) error
}

func (b *fakeBrowser) NewTab(context.Context) (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newErr != nil {
		return nil, b.newErr
	}
	tab := &fakeTab{id: len(b.tabs) + 1, browser: b, stopErr: b.stopErr}
	b.tabs = append(b.tabs, tab)
	return tab, nil
}

func (b *fakeBrowser) Close() error {
	b.closed.Add(1)
	return errors.New("browser already gone")
}

func (b *fakeBrowser) navigate(tab *fakeTab, rawURL string) error {
	if b.navDelay > 0 {
		time.Sleep(b.navDelay)
	}
	if b.navFn == nil {
		return nil
	}
	return b.navFn(tab, rawURL)
}

func (b *fakeBrowser) opened() []*fakeTab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeTab(nil), b.tabs...)
}

func (b *fakeBrowser) launcher() Launcher {
	return func(context.Context, Config) (Browser, error) {
		return b, nil
	}
}

type countingLimiter struct {
	waits atomic.Int32
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits.Add(1)
	return ctx.Err()
}

type instantClock struct {
	sleeps atomic.Int32
}

func (c *instantClock) Now() time.Time { return time.Unix(0, 0).UTC() }

func (c *instantClock) Sleep(ctx context.Context, _ time.Duration) error {
	c.sleeps.Add(1)
	return ctx.Err()
}
