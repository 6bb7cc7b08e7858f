package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// fakeExecutor serves canned HTML per URL.
type fakeExecutor struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	initErr error
	calls   map[string]int
	inits   int
	closes  int
}

func newFakeExecutor(pages map[string]string) *fakeExecutor {
	return &fakeExecutor{pages: pages, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeExecutor) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeExecutor) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.errs[rawURL]; ok {
		return "", err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return "", &crawler.NetworkError{URL: rawURL, Attempts: 3, Err: errors.New("404")}
	}
	return html, nil
}

func (f *fakeExecutor) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeExecutor) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

type instantClock struct{ now time.Time }

func (c instantClock) Now() time.Time { return c.now }

func (c instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

var testClock = instantClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

// recordingQueue records AddLinks and MarkComplete calls, forwarding them to
// inner when set.
type recordingQueue struct {
	mu        sync.Mutex
	inner     crawler.LinkQueue
	added     [][]string
	completes int
}

func (q *recordingQueue) AddLinks(links []string) int {
	q.mu.Lock()
	q.added = append(q.added, append([]string(nil), links...))
	q.mu.Unlock()
	if q.inner != nil {
		return q.inner.AddLinks(links)
	}
	return len(links)
}

func (q *recordingQueue) MarkComplete() {
	q.mu.Lock()
	q.completes++
	q.mu.Unlock()
	if q.inner != nil {
		q.inner.MarkComplete()
	}
}

func (q *recordingQueue) completeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completes
}

func (q *recordingQueue) addedLinks() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, batch := range q.added {
		out = append(out, batch...)
	}
	return out
}

// failingSink rejects result writes.
type failingSink struct{ errorsWritten int }

func (s *failingSink) WriteResults(context.Context, []crawler.ResultRecord) error {
	return errors.New("disk full")
}

func (s *failingSink) WriteErrors(_ context.Context, records []crawler.ErrorRecord) error {
	s.errorsWritten += len(records)
	return nil
}

func (s *failingSink) Close() error { return nil }

func listingPage(next string, items ...string) string {
	html := "<html><body><ul>"
	for _, item := range items {
		html += fmt.Sprintf(`<li><a class="item-link" href="%s">%s</a></li>`, item, item)
	}
	html += "</ul>"
	if next != "" {
		html += fmt.Sprintf(`<a rel="next" href="%s">next</a>`, next)
	}
	return html + "</body></html>"
}

func detailPage(title, author, recs string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><span class="author">%s</span><span class="recommendations">%s</span></body></html>`,
		title, author, recs)
}
