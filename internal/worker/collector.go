package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// CollectorConfig controls pagination.
type CollectorConfig struct {
	SeedURL string
	// MaxPages stops pagination after this many listing pages. Zero means no limit.
	MaxPages int
}

// CollectStats summarizes a collection run.
type CollectStats struct {
	Pages        int `json:"pages"`
	LinksFound   int `json:"links_found"`
	LinksAdded   int `json:"links_added"`
	LinksBlocked int `json:"links_blocked"`
}

// Collector paginates from the seed URL and pushes item links into the queue.
type Collector struct {
	exec   crawler.Executor
	parser crawler.Parser
	queue  crawler.LinkQueue
	retry  crawler.RetryPolicy
	clock  crawler.Clock
	filter crawler.LinkFilter
	cfg    CollectorConfig
	logger *zap.Logger
}

// NewCollector constructs a Collector.
func NewCollector(
	exec crawler.Executor,
	parser crawler.Parser,
	queue crawler.LinkQueue,
	retry crawler.RetryPolicy,
	clock crawler.Clock,
	cfg CollectorConfig,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		exec:   exec,
		parser: parser,
		queue:  queue,
		retry:  retry,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// WithLinkFilter drops pages and links the filter refuses, such as paths
// disallowed by robots.txt.
func (c *Collector) WithLinkFilter(filter crawler.LinkFilter) *Collector {
	c.filter = filter
	return c
}

// Run walks listing pages until one has no links or no next link. The queue
// is always marked complete on return, including on error.
func (c *Collector) Run(ctx context.Context) (stats CollectStats, err error) {
	defer c.queue.MarkComplete()

	if err := c.exec.Initialize(ctx); err != nil {
		return stats, fmt.Errorf("initialize collector executor: %w", err)
	}
	defer c.exec.Close()

	visited := make(map[string]struct{})
	pageURL := c.cfg.SeedURL
	for pageURL != "" {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("collection canceled: %w", err)
		}
		if _, seen := visited[pageURL]; seen {
			c.logger.Warn("next page already visited; stopping", zap.String("url", pageURL))
			break
		}
		if c.cfg.MaxPages > 0 && stats.Pages >= c.cfg.MaxPages {
			c.logger.Info("max pages reached; stopping", zap.Int("max_pages", c.cfg.MaxPages))
			break
		}
		visited[pageURL] = struct{}{}
		if !c.allowed(ctx, pageURL) {
			c.logger.Warn("listing page disallowed; stopping", zap.String("url", pageURL))
			break
		}

		page, err := c.fetchListing(ctx, pageURL)
		if err != nil {
			metrics.ObservePage("listing", "error")
			return stats, err
		}
		metrics.ObservePage("listing", "success")
		stats.Pages++

		if len(page.Links) == 0 {
			c.logger.Info("listing page has no links; stopping", zap.String("url", pageURL))
			break
		}
		stats.LinksFound += len(page.Links)
		links := c.filterLinks(ctx, page.Links)
		stats.LinksBlocked += len(page.Links) - len(links)
		added := c.queue.AddLinks(links)
		stats.LinksAdded += added
		c.logger.Info("listing page collected",
			zap.Int("page", stats.Pages),
			zap.String("url", pageURL),
			zap.Int("links", len(page.Links)),
			zap.Int("blocked", len(page.Links)-len(links)),
			zap.Int("added", added),
		)
		pageURL = page.Next
	}
	c.logger.Info("collection finished",
		zap.Int("pages", stats.Pages),
		zap.Int("links_added", stats.LinksAdded),
	)
	return stats, nil
}

func (c *Collector) allowed(ctx context.Context, rawURL string) bool {
	return c.filter == nil || c.filter.Allowed(ctx, rawURL)
}

func (c *Collector) filterLinks(ctx context.Context, links []string) []string {
	if c.filter == nil {
		return links
	}
	kept := make([]string, 0, len(links))
	for _, link := range links {
		if c.filter.Allowed(ctx, link) {
			kept = append(kept, link)
			continue
		}
		c.logger.Debug("link disallowed", zap.String("url", link))
	}
	return kept
}

func (c *Collector) fetchListing(ctx context.Context, pageURL string) (crawler.ListingPage, error) {
	var page crawler.ListingPage
	err := crawler.Retry(ctx, pageURL, c.retry, c.clock, func(ctx context.Context, attempt int) error {
		html, err := c.exec.FetchHTML(ctx, pageURL)
		if err != nil {
			c.logger.Warn("listing fetch failed",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		parsed, err := c.parser.ParseListing(html, pageURL)
		if err != nil {
			return err
		}
		page = parsed
		return nil
	})
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("collect listing: %w", err)
	}
	return page, nil
}
