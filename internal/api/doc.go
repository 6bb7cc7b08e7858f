// Package api hosts the operator HTTP server for a running crawl. Routes:
//   - GET /healthz and /readyz for probes; readyz reports 503 once the run has ended.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for run state, live queue statistics and the final summary.
//   - GET /v1/stats for queue statistics alone.
package api
