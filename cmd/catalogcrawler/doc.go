// Package main hosts the catalogcrawler command.
//
// Architecture overview:
//   - Collection loop: internal/worker.Collector walks listing pages from the seed URL through its own headless
//     executor, parses item links with the goquery parser and pushes them into the in-memory work queue. It stops on
//     a page without links, a page without a next link, a repeated page or the configured page limit, and always
//     marks the queue complete on the way out.
//   - Detail loop: internal/worker.DetailWorker drains the queue in adaptive batches sized by
//     internal/queue/memory.BatchPolicy, fetches each item concurrently through a second executor and writes one
//     results batch plus one error batch per round to the configured sink.
//   - Executors: internal/fetcher/headless.Executor bounds concurrent operations with a weighted semaphore, spends
//     one token-bucket token per navigation attempt, retries navigations with capped exponential backoff and reuses
//     chromedp tabs through a bounded pool.
//   - Output: results and errors are appended to CSV files (gocsv) and optionally mirrored to Postgres (pgx). The CSV
//     files can be uploaded to GCS under <prefix>/<run_id>/ once the run ends, and a run summary is published to
//     Pub/Sub when a topic is configured.
//   - Observability: zap logs carry the run ID; Prometheus collectors track pages, navigations, queue depth, batch
//     sizes and rate-limit delays. When metrics are enabled a chi server exposes /healthz, /readyz, /metrics and
//     /v1/run.
//
// Quick checklist:
//   - Configure via YAML (--config) or env vars with the CRAWLER_ prefix, e.g. CRAWLER_CRAWL_SEED_URL,
//     CRAWLER_EXECUTOR_MAX_CONCURRENT, CRAWLER_EXECUTOR_RATE_LIMIT_PER_MINUTE, CRAWLER_DB_DSN.
//   - Run locally: go run ./cmd/catalogcrawler crawl --seed https://catalog.example/list --headless=false
//   - Check a config file without crawling: catalogcrawler validate --config config.yaml
//   - SIGINT/SIGTERM cancels both loops; finished batches are still flushed and sinks closed.
package main
