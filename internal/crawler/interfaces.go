package crawler

import (
	"context"
	"time"
)

// Executor runs page fetches against a pool of browser tabs. Callers must
// Initialize before use and Close when done.
type Executor interface {
	Initialize(ctx context.Context) error
	FetchHTML(ctx context.Context, rawURL string) (string, error)
	Close()
}

// Parser extracts links and fields from page markup.
type Parser interface {
	ParseListing(html string, pageURL string) (ListingPage, error)
	ParseDetail(html string, pageURL string) (Detail, error)
}

// Sink durably appends crawl output.
type Sink interface {
	WriteResults(ctx context.Context, records []ResultRecord) error
	WriteErrors(ctx context.Context, records []ErrorRecord) error
	Close() error
}

// LinkQueue is the producer side of the work queue.
type LinkQueue interface {
	AddLinks(links []string) int
	MarkComplete()
}

// WorkQueue coordinates discovered URLs between the collection and detail loops.
type WorkQueue interface {
	LinkQueue
	GetBatch(maxSize int) []string
	MarkProcessed(links []string, success bool, elapsedMs float64)
	HasMore() bool
	Stats() QueueStats
	// Available fires (coalesced) after links are added.
	Available() <-chan struct{}
}

// LinkFilter decides whether a URL may be crawled at all.
type LinkFilter interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
