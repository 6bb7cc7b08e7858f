// Package memory keeps crawl output in-memory for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Sink stores records in slices guarded by a mutex.
type Sink struct {
	mu      sync.RWMutex
	results []crawler.ResultRecord
	errors  []crawler.ErrorRecord
	batches int
	closed  bool
}

var _ crawler.Sink = (*Sink)(nil)

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{}
}

// WriteResults appends a copy of records.
func (s *Sink) WriteResults(_ context.Context, records []crawler.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, records...)
	s.batches++
	return nil
}

// WriteErrors appends a copy of records.
func (s *Sink) WriteErrors(_ context.Context, records []crawler.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, records...)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns a snapshot of stored results.
func (s *Sink) Results() []crawler.ResultRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ResultRecord(nil), s.results...)
}

// Errors returns a snapshot of stored error records.
func (s *Sink) Errors() []crawler.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ErrorRecord(nil), s.errors...)
}

// ResultBatches reports how many WriteResults calls were made.
func (s *Sink) ResultBatches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
