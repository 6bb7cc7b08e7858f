// Package memory provides the in-process work queue shared by the
// collection and detail loops.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const defaultNotifyInterval = 100 * time.Millisecond

// Option customizes a Queue.
type Option func(*Queue)

// WithPolicy swaps the batch sizing policy.
func WithPolicy(policy BatchPolicy) Option {
	return func(q *Queue) {
		if policy != nil {
			q.policy = policy
		}
	}
}

// WithLogger attaches a logger for availability notifications.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithNotifyInterval sets the minimum spacing between availability log lines.
func WithNotifyInterval(d time.Duration) Option {
	return func(q *Queue) {
		q.notifyLimiter.interval = d
	}
}

// Queue hands discovered URLs from the collection loop to the detail loop.
// A single mutex covers pending, in-flight and stats so every operation is
// observed atomically.
type Queue struct {
	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	inFlight map[string]struct{}
	complete bool
	stats    statsTracker
	policy   BatchPolicy

	available     chan struct{}
	logger        *zap.Logger
	notifyLimiter notifyLimiter
}

// NewQueue constructs an empty queue using DefaultPolicy.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		queued:        make(map[string]struct{}),
		inFlight:      make(map[string]struct{}),
		policy:        DefaultPolicy(),
		available:     make(chan struct{}, 1),
		logger:        zap.NewNop(),
		notifyLimiter: notifyLimiter{interval: defaultNotifyInterval},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ crawler.WorkQueue = (*Queue)(nil)

// AddLinks appends links not already pending or in flight and returns how
// many were accepted. A link that was processed earlier may be queued again.
func (q *Queue) AddLinks(links []string) int {
	q.mu.Lock()
	added := 0
	for _, link := range links {
		if link == "" {
			continue
		}
		if _, ok := q.inFlight[link]; ok {
			continue
		}
		if _, ok := q.queued[link]; ok {
			continue
		}
		q.queued[link] = struct{}{}
		q.pending = append(q.pending, link)
		added++
	}
	pending, inFlight := len(q.pending), len(q.inFlight)
	q.mu.Unlock()

	metrics.SetQueueDepth(pending, inFlight)
	if added > 0 {
		q.signal(added, pending)
	}
	return added
}

// signal wakes a waiting consumer. The wakeup is never suppressed; only the
// log line is throttled.
func (q *Queue) signal(added, pending int) {
	select {
	case q.available <- struct{}{}:
	default:
	}
	if q.notifyLimiter.Allow(time.Now()) {
		q.logger.Debug("items available", zap.Int("added", added), zap.Int("pending", pending))
	}
}

// Available returns a channel that receives after links are added. Multiple
// additions between reads coalesce into one wakeup.
func (q *Queue) Available() <-chan struct{} {
	return q.available
}

// GetBatch moves up to an adaptive number of items (never more than maxSize)
// from the front of pending into in-flight.
func (q *Queue) GetBatch(maxSize int) []string {
	q.mu.Lock()
	if len(q.pending) == 0 || maxSize <= 0 {
		q.mu.Unlock()
		return nil
	}
	size := q.policy.BatchSize(maxSize, q.stats.successRate(), len(q.inFlight))
	if size > maxSize {
		size = maxSize
	}
	if size > len(q.pending) {
		size = len(q.pending)
	}
	batch := make([]string, size)
	copy(batch, q.pending[:size])
	q.pending = q.pending[size:]
	for _, link := range batch {
		delete(q.queued, link)
		q.inFlight[link] = struct{}{}
	}
	pending, inFlight := len(q.pending), len(q.inFlight)
	q.mu.Unlock()

	metrics.SetQueueDepth(pending, inFlight)
	metrics.ObserveBatchSize(size)
	return batch
}

// MarkProcessed reports the outcome of a batch. A successful call counts as
// one observation for the moving average regardless of batch size.
func (q *Queue) MarkProcessed(links []string, success bool, elapsedMs float64) {
	q.mu.Lock()
	for _, link := range links {
		delete(q.inFlight, link)
	}
	if success {
		q.stats.recordSuccess(len(links), elapsedMs)
	} else {
		q.stats.recordFailure(len(links))
	}
	pending, inFlight := len(q.pending), len(q.inFlight)
	q.mu.Unlock()

	metrics.SetQueueDepth(pending, inFlight)
}

// MarkComplete records that the producer will add no more links. Idempotent.
func (q *Queue) MarkComplete() {
	q.mu.Lock()
	q.complete = true
	q.mu.Unlock()
	// Wake a consumer blocked on Available so it re-checks HasMore.
	select {
	case q.available <- struct{}{}:
	default:
	}
}

// HasMore reports whether work remains: items pending or in flight, or a
// producer still running.
func (q *Queue) HasMore() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0 || !q.complete || len(q.inFlight) > 0
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() crawler.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return crawler.QueueStats{
		QueueSize:           len(q.pending),
		InFlight:            len(q.inFlight),
		Processed:           q.stats.processed,
		Failed:              q.stats.failed,
		AvgProcessingTimeMs: q.stats.avgMs,
	}
}

// SuccessRate returns processed/(processed+failed), or 1 before any outcome.
func (q *Queue) SuccessRate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.successRate()
}

// statsTracker is guarded by Queue.mu.
type statsTracker struct {
	processed int
	failed    int
	avgMs     float64
}

func (s *statsTracker) recordSuccess(n int, elapsedMs float64) {
	before := s.processed
	s.avgMs = (s.avgMs*float64(before) + elapsedMs) / float64(before+1)
	s.processed += n
}

func (s *statsTracker) recordFailure(n int) {
	s.failed += n
}

func (s *statsTracker) successRate() float64 {
	total := s.processed + s.failed
	if total == 0 {
		return 1
	}
	return float64(s.processed) / float64(total)
}

type notifyLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *notifyLimiter) Allow(now time.Time) bool {
	if r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
