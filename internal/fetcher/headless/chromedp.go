package headless

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const stopTimeout = 5 * time.Second

type chromeBrowser struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// LaunchChromedp starts a local Chrome through chromedp.
func LaunchChromedp(ctx context.Context, cfg Config) (Browser, error) {
	cfg = cfg.withDefaults()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	if !stopForward() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &chromeBrowser{
		cfg:           cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

func (b *chromeBrowser) NewTab(ctx context.Context) (Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	stopForward := forwardCancel(ctx, cancel)
	err := chromedp.Run(tabCtx, b.setupAction())
	if !stopForward() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromeTab{
		ctx:          tabCtx,
		cancel:       cancel,
		navTimeout:   b.cfg.NavigationTimeout,
		waitSelector: b.cfg.WaitSelector,
	}, nil
}

func (b *chromeBrowser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if b.cfg.BlockResources && len(b.cfg.BlockedURLPatterns) > 0 {
			if err := network.SetBlockedURLs(b.cfg.BlockedURLPatterns).Do(ctx); err != nil {
				return fmt.Errorf("block resources: %w", err)
			}
		}
		return nil
	})
}

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type chromeTab struct {
	ctx          context.Context
	cancel       context.CancelFunc
	navTimeout   time.Duration
	waitSelector string
	closed       atomic.Bool
}

func (t *chromeTab) Navigate(ctx context.Context, rawURL string) error {
	navCtx, cancel := context.WithTimeout(t.ctx, t.navTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(t.waitSelector, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s after %v", crawler.ErrNavigationTimeout, rawURL, t.navTimeout)
	}
	return fmt.Errorf("navigate %s: %w", rawURL, err)
}

func (t *chromeTab) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(t.ctx, t.navTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (t *chromeTab) Stop(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(t.ctx, stopTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, page.StopLoading()); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}
	return nil
}

func (t *chromeTab) Alive() bool {
	if t.closed.Load() || t.ctx.Err() != nil {
		return false
	}
	c := chromedp.FromContext(t.ctx)
	return c != nil && c.Target != nil
}

func (t *chromeTab) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// forwardCancel calls cancel when parent is done, until the returned stop
// function runs. Tab contexts descend from the browser, not the caller.
// Once stop returns, cancel is never invoked by this forwarder; stop reports
// false if cancel was already triggered.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() bool {
	if parent == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(parent, cancel)
}
