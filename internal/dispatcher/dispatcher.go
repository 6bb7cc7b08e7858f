// Package dispatcher runs the collection and detail loops side by side and
// reports a run summary when both finish.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	runids "github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

const (
	// EventCompleted is published after a successful run.
	EventCompleted = "crawl.completed"
	// EventFailed is published after a run that ended with an error.
	EventFailed = "crawl.failed"
)

// CollectionLoop produces links for the queue.
type CollectionLoop interface {
	Run(ctx context.Context) (worker.CollectStats, error)
}

// DetailLoop consumes links from the queue.
type DetailLoop interface {
	Run(ctx context.Context) (worker.DetailStats, error)
}

// Config identifies the run.
type Config struct {
	// RunID defaults to a random UUID.
	RunID   string
	SeedURL string
}

// Summary describes a finished run.
type Summary struct {
	RunID               string    `json:"run_id"`
	SeedURL             string    `json:"seed_url"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	DurationMs          int64     `json:"duration_ms"`
	Pages               int       `json:"pages"`
	LinksFound          int       `json:"links_found"`
	LinksQueued         int       `json:"links_queued"`
	LinksBlocked        int       `json:"links_blocked"`
	Batches             int       `json:"batches"`
	Processed           int       `json:"processed"`
	Failed              int       `json:"failed"`
	Results             int       `json:"results"`
	Errors              int       `json:"errors"`
	SinkErrors          int       `json:"sink_errors"`
	AvgProcessingTimeMs float64   `json:"avg_processing_time_ms"`
	Error               string    `json:"error,omitempty"`
}

// Dispatcher owns one crawl run.
type Dispatcher struct {
	collector CollectionLoop
	detail    DetailLoop
	queue     crawler.WorkQueue
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. publisher may be nil.
func New(
	collector CollectionLoop,
	detail DetailLoop,
	queue crawler.WorkQueue,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID == "" {
		id, err := runids.New().NewID()
		if err != nil {
			logger.Warn("falling back to random run id", zap.Error(err))
			id = uuid.NewString()
		}
		cfg.RunID = id
	}
	return &Dispatcher{
		collector: collector,
		detail:    detail,
		queue:     queue,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.String("run_id", cfg.RunID)),
	}
}

// RunID returns the identifier of this run.
func (d *Dispatcher) RunID() string {
	return d.cfg.RunID
}

// Run starts both loops and blocks until both return. The first error
// cancels the other loop and is returned alongside the summary.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	started := d.clock.Now()
	d.logger.Info("crawl started", zap.String("seed_url", d.cfg.SeedURL))

	var (
		collected worker.CollectStats
		detailed  worker.DetailStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := d.collector.Run(gctx)
		collected = stats
		if err != nil {
			return fmt.Errorf("collection loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		stats, err := d.detail.Run(gctx)
		detailed = stats
		if err != nil {
			return fmt.Errorf("detail loop: %w", err)
		}
		return nil
	})
	err := g.Wait()

	finished := d.clock.Now()
	qs := d.queue.Stats()
	summary := Summary{
		RunID:               d.cfg.RunID,
		SeedURL:             d.cfg.SeedURL,
		StartedAt:           started,
		FinishedAt:          finished,
		DurationMs:          finished.Sub(started).Milliseconds(),
		Pages:               collected.Pages,
		LinksFound:          collected.LinksFound,
		LinksQueued:         collected.LinksAdded,
		LinksBlocked:        collected.LinksBlocked,
		Batches:             detailed.Batches,
		Processed:           qs.Processed,
		Failed:              qs.Failed,
		Results:             detailed.Succeeded,
		Errors:              detailed.Failed,
		SinkErrors:          detailed.SinkErrors,
		AvgProcessingTimeMs: qs.AvgProcessingTimeMs,
	}
	fields := []zap.Field{
		zap.Int("pages", summary.Pages),
		zap.Int("links_queued", summary.LinksQueued),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Float64("avg_processing_time_ms", summary.AvgProcessingTimeMs),
		zap.Int64("duration_ms", summary.DurationMs),
	}
	event := EventCompleted
	if err != nil {
		summary.Error = err.Error()
		event = EventFailed
		d.logger.Error("crawl failed", append(fields, zap.Error(err))...)
	} else {
		d.logger.Info("crawl finished", fields...)
	}

	d.publish(context.WithoutCancel(ctx), event, summary)
	return summary, err
}

func (d *Dispatcher) publish(ctx context.Context, event string, summary Summary) {
	if d.publisher == nil {
		return
	}
	id, err := d.publisher.Publish(ctx, event, summary)
	if err != nil {
		d.logger.Warn("publish run summary failed", zap.String("event", event), zap.Error(err))
		return
	}
	d.logger.Debug("run summary published", zap.String("event", event), zap.String("message_id", id))
}
