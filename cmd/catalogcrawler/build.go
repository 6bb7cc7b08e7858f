package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/parser"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	sinkstorage "github.com/JakeFAU/catalog-crawler/internal/storage"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
)

func buildQueue(cfg config.Config, logger *zap.Logger) *queueMemory.Queue {
	var policy queueMemory.BatchPolicy = queueMemory.DefaultPolicy()
	if !cfg.Queue.AdaptiveBatching {
		policy = queueMemory.FixedPolicy{}
	}
	return queueMemory.NewQueue(queueMemory.WithPolicy(policy), queueMemory.WithLogger(logger))
}

func buildParser(cfg config.Config) (*parser.Parser, error) {
	p, err := parser.New(parser.Selectors{
		ItemLink:        cfg.Parser.ItemLink,
		NextPage:        cfg.Parser.NextPage,
		Title:           cfg.Parser.Title,
		Author:          cfg.Parser.Author,
		Recommendations: cfg.Parser.Recommendations,
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	return p, nil
}

func buildRetryPolicy(cfg config.Config) *crawler.ExponentialRetryPolicy {
	base, limit := cfg.Backoff()
	return crawler.NewExponentialRetryPolicyWithDelays(cfg.Executor.MaxRetries, base, limit)
}

func headlessConfig(cfg config.Config) headless.Config {
	return headless.Config{
		Headless:           cfg.Browser.Headless,
		UserAgent:          cfg.Browser.UserAgent,
		NavigationTimeout:  cfg.NavigationTimeout(),
		WaitSelector:       cfg.Browser.WaitSelector,
		MaxConcurrent:      cfg.Executor.MaxConcurrent,
		RateLimitPerMinute: cfg.Executor.RateLimitPerMinute,
		MaxRetries:         cfg.Executor.MaxRetries,
		PoolSize:           cfg.Browser.PoolSize,
		Prewarm:            cfg.Browser.Prewarm,
		BlockResources:     cfg.Browser.BlockResources,
		BlockedURLPatterns: cfg.Browser.BlockedURLPatterns,
	}
}

func buildExecutor(cfg config.Config, clock crawler.Clock, logger *zap.Logger) *headless.Executor {
	return headless.New(
		headlessConfig(cfg),
		logger,
		headless.WithClock(clock),
		headless.WithRetryPolicy(buildRetryPolicy(cfg)),
	)
}

// buildSink opens the CSV sink and, when a DSN is configured, mirrors rows to Postgres.
func buildSink(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (crawler.Sink, error) {
	csvSink, err := local.New(local.Config{
		ResultsPath: cfg.Output.ResultsPath,
		ErrorsPath:  cfg.Output.ErrorsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init csv sink: %w", err)
	}
	if cfg.DB.DSN == "" {
		return sinkstorage.NewMulti(csvSink), nil
	}
	store, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
		DSN:          cfg.DB.DSN,
		ResultsTable: cfg.DB.ResultsTable,
		ErrorsTable:  cfg.DB.ErrorsTable,
		RunID:        runID,
		MaxConns:     cfg.DB.MaxConns,
		MinConns:     cfg.DB.MinConns,
	})
	if err != nil {
		if closeErr := csvSink.Close(); closeErr != nil {
			logger.Warn("csv sink close failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("init postgres sink: %w", err)
	}
	logger.Info("postgres sink enabled",
		zap.String("results_table", cfg.DB.ResultsTable),
		zap.String("errors_table", cfg.DB.ErrorsTable),
	)
	return sinkstorage.NewMulti(csvSink, store), nil
}

// buildPublisher returns a nil publisher when no topic is configured.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	logger.Info("pubsub notifications enabled",
		zap.String("project_id", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return pub, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}, nil
}

// uploadOutputs copies the CSV files to GCS when a bucket is configured.
func uploadOutputs(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) {
	if cfg.Output.GCSBucket == "" {
		return
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		logger.Error("init gcs client failed", zap.Error(err))
		return
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("gcs client close failed", zap.Error(err))
		}
	}()
	uploader, err := gcs.New(client, gcs.Config{Bucket: cfg.Output.GCSBucket, Prefix: cfg.Output.GCSPrefix})
	if err != nil {
		logger.Error("init gcs uploader failed", zap.Error(err))
		return
	}
	uris, err := uploader.UploadRun(ctx, runID, cfg.Output.ResultsPath, cfg.Output.ErrorsPath)
	if err != nil {
		logger.Error("upload outputs failed", zap.Strings("uploaded", uris), zap.Error(err))
		return
	}
	logger.Info("outputs uploaded", zap.Strings("uris", uris))
}
