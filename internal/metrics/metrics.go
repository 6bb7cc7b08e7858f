// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerNavigationsTotal       *prometheus.CounterVec
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds prometheus.Histogram
	crawlerQueuePending           prometheus.Gauge
	crawlerQueueInFlight          prometheus.Gauge
	crawlerBatchSize              prometheus.Histogram
	crawlerActiveOperations       prometheus.Gauge
	crawlerPooledTabs             prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages processed, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		crawlerNavigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_navigations_total",
				Help: "Total number of navigation attempts, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total number of records written to sinks, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerQueuePending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_pending",
				Help: "Number of discovered URLs waiting to be processed.",
			},
		)

		crawlerQueueInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_in_flight",
				Help: "Number of URLs handed out but not yet reported.",
			},
		)

		crawlerBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_size",
				Help:    "Histogram of adaptive batch sizes handed to the detail loop.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		)

		crawlerActiveOperations = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_operations",
				Help: "Number of executor operations currently holding a concurrency slot.",
			},
		)

		crawlerPooledTabs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_pooled_tabs",
				Help: "Number of idle browser tabs waiting in executor pools.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The Observe helpers are no-ops until Init runs so library code and tests
// never need a registry.

// ObservePage counts a listing or detail page outcome.
func ObservePage(stage, status string) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(stage, status).Inc()
}

// ObserveNavigation counts one navigation attempt.
func ObserveNavigation(rawURL, status string) {
	if crawlerNavigationsTotal == nil {
		return
	}
	crawlerNavigationsTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveRecords counts records handed to sinks.
func ObserveRecords(kind string, n int) {
	if crawlerRecordsTotal == nil || n <= 0 {
		return
	}
	crawlerRecordsTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	if crawlerRateLimitDelaysSeconds == nil {
		return
	}
	crawlerRateLimitDelaysSeconds.Observe(duration.Seconds())
}

// SetQueueDepth publishes the pending and in-flight sizes of the work queue.
func SetQueueDepth(pending, inFlight int) {
	if crawlerQueuePending == nil {
		return
	}
	crawlerQueuePending.Set(float64(pending))
	crawlerQueueInFlight.Set(float64(inFlight))
}

// ObserveBatchSize records a batch handed to the detail loop.
func ObserveBatchSize(n int) {
	if crawlerBatchSize == nil {
		return
	}
	crawlerBatchSize.Observe(float64(n))
}

// IncActiveOperations increments the active operations gauge.
func IncActiveOperations() {
	if crawlerActiveOperations == nil {
		return
	}
	crawlerActiveOperations.Inc()
}

// DecActiveOperations decrements the active operations gauge.
func DecActiveOperations() {
	if crawlerActiveOperations == nil {
		return
	}
	crawlerActiveOperations.Dec()
}

// AddPooledTabs adjusts the idle tab gauge by delta.
func AddPooledTabs(delta int) {
	if crawlerPooledTabs == nil {
		return
	}
	crawlerPooledTabs.Add(float64(delta))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
