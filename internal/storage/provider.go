// Package storage fans crawl output out to several sinks.
package storage

import (
	"context"
	"errors"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Multi forwards every call to each wrapped sink. A failing sink does not
// stop the others; all failures are joined.
type Multi struct {
	sinks []crawler.Sink
}

var _ crawler.Sink = (*Multi)(nil)

// NewMulti wraps sinks, skipping nil entries.
func NewMulti(sinks ...crawler.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len reports how many sinks are wrapped.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// WriteResults writes records to every sink.
func (m *Multi) WriteResults(ctx context.Context, records []crawler.ResultRecord) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.WriteResults(ctx, records))
	}
	return errors.Join(errs...)
}

// WriteErrors writes records to every sink.
func (m *Multi) WriteErrors(ctx context.Context, records []crawler.ErrorRecord) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.WriteErrors(ctx, records))
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
