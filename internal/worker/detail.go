package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultMinIdleWait = 50 * time.Millisecond
	defaultMaxIdleWait = time.Second
)

// DetailConfig controls batching and idle waits.
type DetailConfig struct {
	// MaxConcurrent is the largest batch requested from the queue.
	MaxConcurrent int
	MinIdleWait   time.Duration
	MaxIdleWait   time.Duration
}

// DetailStats summarizes a detail run.
type DetailStats struct {
	Batches    int `json:"batches"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	SinkErrors int `json:"sink_errors"`
}

// DetailWorker drains the work queue and writes extracted records.
type DetailWorker struct {
	exec   crawler.Executor
	parser crawler.Parser
	queue  crawler.WorkQueue
	sink   crawler.Sink
	clock  crawler.Clock
	cfg    DetailConfig
	logger *zap.Logger
}

// NewDetailWorker constructs a DetailWorker.
func NewDetailWorker(
	exec crawler.Executor,
	parser crawler.Parser,
	queue crawler.WorkQueue,
	sink crawler.Sink,
	clock crawler.Clock,
	cfg DetailConfig,
	logger *zap.Logger,
) *DetailWorker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MinIdleWait <= 0 {
		cfg.MinIdleWait = defaultMinIdleWait
	}
	if cfg.MaxIdleWait < cfg.MinIdleWait {
		cfg.MaxIdleWait = defaultMaxIdleWait
		if cfg.MaxIdleWait < cfg.MinIdleWait {
			cfg.MaxIdleWait = cfg.MinIdleWait
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailWorker{
		exec:   exec,
		parser: parser,
		queue:  queue,
		sink:   sink,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

type outcome struct {
	result  *crawler.ResultRecord
	failure *crawler.ErrorRecord
}

// Run processes batches until the queue reports no more work.
func (w *DetailWorker) Run(ctx context.Context) (stats DetailStats, err error) {
	if err := w.exec.Initialize(ctx); err != nil {
		return stats, fmt.Errorf("initialize detail executor: %w", err)
	}
	defer w.exec.Close()

	for w.queue.HasMore() {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("detail loop canceled: %w", err)
		}
		batch := w.queue.GetBatch(w.cfg.MaxConcurrent)
		if len(batch) == 0 {
			if err := w.idle(ctx); err != nil {
				return stats, fmt.Errorf("detail loop canceled: %w", err)
			}
			continue
		}
		w.processBatch(ctx, batch, &stats)
	}
	w.logger.Info("detail loop finished",
		zap.Int("batches", stats.Batches),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (w *DetailWorker) processBatch(ctx context.Context, batch []string, stats *DetailStats) {
	start := w.clock.Now()
	outcomes := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i, link := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = w.scrape(ctx, link)
		}()
	}
	wg.Wait()
	elapsedMs := float64(w.clock.Now().Sub(start)) / float64(time.Millisecond)

	var (
		results  []crawler.ResultRecord
		failures []crawler.ErrorRecord
	)
	for _, o := range outcomes {
		if o.result != nil {
			results = append(results, *o.result)
		} else if o.failure != nil {
			failures = append(failures, *o.failure)
		}
	}

	// Flush even while shutting down so finished work is not lost.
	writeCtx := context.WithoutCancel(ctx)
	allOK := len(failures) == 0
	if len(results) > 0 {
		if err := w.sink.WriteResults(writeCtx, results); err != nil {
			w.logger.Error("write results failed", zap.Int("records", len(results)), zap.Error(err))
			stats.SinkErrors++
			allOK = false
		} else {
			metrics.ObserveRecords("results", len(results))
		}
	}
	if len(failures) > 0 {
		if err := w.sink.WriteErrors(writeCtx, failures); err != nil {
			w.logger.Error("write error records failed", zap.Int("records", len(failures)), zap.Error(err))
			stats.SinkErrors++
		} else {
			metrics.ObserveRecords("errors", len(failures))
		}
	}

	w.queue.MarkProcessed(batch, allOK, elapsedMs)
	stats.Batches++
	stats.Succeeded += len(results)
	stats.Failed += len(failures)

	qs := w.queue.Stats()
	w.logger.Info("batch processed",
		zap.Int("size", len(batch)),
		zap.Int("succeeded", len(results)),
		zap.Int("failed", len(failures)),
		zap.Float64("elapsed_ms", elapsedMs),
		zap.Int("pending", qs.QueueSize),
		zap.Int("processed_total", qs.Processed),
		zap.Int("failed_total", qs.Failed),
	)
}

func (w *DetailWorker) scrape(ctx context.Context, link string) outcome {
	html, err := w.exec.FetchHTML(ctx, link)
	if err == nil {
		var detail crawler.Detail
		detail, err = w.parser.ParseDetail(html, link)
		if err == nil {
			metrics.ObservePage("detail", "success")
			return outcome{result: &crawler.ResultRecord{
				Title:               detail.Title,
				Author:              detail.Author,
				RecommendationCount: detail.RecommendationCount,
				URL:                 link,
				ScrapedAt:           w.clock.Now(),
			}}
		}
	}
	metrics.ObservePage("detail", "error")
	w.logger.Warn("item failed", zap.String("url", link), zap.Error(err))
	return outcome{failure: &crawler.ErrorRecord{
		URL:          link,
		Error:        err.Error(),
		Timestamp:    w.clock.Now(),
		AttemptCount: crawler.AttemptCount(err),
	}}
}

// idleWait is a quarter of the average batch latency, clamped.
func (w *DetailWorker) idleWait() time.Duration {
	avg := w.queue.Stats().AvgProcessingTimeMs
	d := time.Duration(avg / 4 * float64(time.Millisecond))
	if d < w.cfg.MinIdleWait {
		return w.cfg.MinIdleWait
	}
	if d > w.cfg.MaxIdleWait {
		return w.cfg.MaxIdleWait
	}
	return d
}

// idle waits for new links, the idle delay, or cancellation.
func (w *DetailWorker) idle(ctx context.Context) error {
	timer := time.NewTimer(w.idleWait())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.queue.Available():
	case <-timer.C:
	}
	return nil
}
