package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	runids "github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/robots"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newCrawlCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the collection and detail loops until the catalog is exhausted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadCrawlConfig(cmd, root.configPath)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.String("seed", "", "seed listing URL (overrides crawl.seed_url)")
	flags.Bool("headless", true, "run the browser headless (overrides browser.headless)")
	flags.Int("concurrency", 0, "max concurrent fetches per executor (overrides executor.max_concurrent)")
	flags.Int("rate", 0, "navigations per minute per executor (overrides executor.rate_limit_per_minute)")
	flags.Int("max-pages", 0, "stop after this many listing pages (overrides crawl.max_pages)")
	flags.String("results", "", "results CSV path (overrides output.results_path)")
	flags.String("errors", "", "errors CSV path (overrides output.errors_path)")
	flags.String("metrics-addr", "", "serve health and metrics on this address (enables metrics)")
	return cmd
}

// loadCrawlConfig reads file/env config, applies explicitly set flags and validates.
func loadCrawlConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg, err := config.Read(path)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	// Lookup errors are impossible here: every name is registered by newCrawlCmd.
	if flags.Changed("seed") {
		cfg.Crawl.SeedURL, _ = flags.GetString("seed")
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("concurrency") {
		cfg.Executor.MaxConcurrent, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("rate") {
		cfg.Executor.RateLimitPerMinute, _ = flags.GetInt("rate")
	}
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("results") {
		cfg.Output.ResultsPath, _ = flags.GetString("results")
	}
	if flags.Changed("errors") {
		cfg.Output.ErrorsPath, _ = flags.GetString("errors")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runCrawl(parent context.Context, cfg config.Config) (err error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	runID := cfg.Crawl.RunID
	if runID == "" {
		if runID, err = runids.New().NewID(); err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
	}
	logger = logger.With(zap.String("run_id", runID))
	clock := system.New()

	queue := buildQueue(cfg, logger.Named("queue"))
	parser, err := buildParser(cfg)
	if err != nil {
		return err
	}
	sink, err := buildSink(ctx, cfg, runID, logger.Named("sink"))
	if err != nil {
		return err
	}
	// Sinks and uploads must finish even after a signal.
	flushCtx := context.WithoutCancel(ctx)
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Error("sink close failed", zap.Error(closeErr))
			err = errors.Join(err, fmt.Errorf("close sink: %w", closeErr))
		}
		uploadOutputs(flushCtx, cfg, runID, logger.Named("upload"))
	}()

	publisher, stopPublisher, err := buildPublisher(ctx, cfg, logger.Named("publisher"))
	if err != nil {
		return err
	}
	defer stopPublisher()

	collector := worker.NewCollector(
		buildExecutor(cfg, clock, logger.Named("listing-executor")),
		parser,
		queue,
		buildRetryPolicy(cfg),
		clock,
		worker.CollectorConfig{SeedURL: cfg.Crawl.SeedURL, MaxPages: cfg.Crawl.MaxPages},
		logger.Named("collector"),
	)
	if cfg.Crawl.RespectRobots {
		collector.WithLinkFilter(robots.New(robots.Config{UserAgent: cfg.Browser.UserAgent}, logger.Named("robots")))
	}
	minWait, maxWait := cfg.IdleWait()
	detail := worker.NewDetailWorker(
		buildExecutor(cfg, clock, logger.Named("detail-executor")),
		parser,
		queue,
		sink,
		clock,
		worker.DetailConfig{
			MaxConcurrent: cfg.Executor.MaxConcurrent,
			MinIdleWait:   minWait,
			MaxIdleWait:   maxWait,
		},
		logger.Named("detail"),
	)
	dispatch := dispatcher.New(
		collector,
		detail,
		queue,
		publisher,
		clock,
		dispatcher.Config{RunID: runID, SeedURL: cfg.Crawl.SeedURL},
		logger.Named("dispatcher"),
	)

	var apiServer *api.Server
	if cfg.Metrics.Enabled {
		apiServer = api.NewServer(queue, api.RunInfo{RunID: runID, SeedURL: cfg.Crawl.SeedURL}, clock, logger.Named("api"))
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.String("addr", cfg.Metrics.Addr))
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(serveErr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(flushCtx, shutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Error("server shutdown error", zap.Error(shutdownErr))
			}
		}()
		apiServer.SetState(api.StateRunning)
	}

	summary, runErr := dispatch.Run(ctx)
	if apiServer != nil {
		apiServer.Finish(summary)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			logger.Warn("crawl interrupted", zap.Error(runErr))
		}
		return fmt.Errorf("run crawl: %w", runErr)
	}
	return nil
}
