// Package local implements a crawl sink that appends CSV files on the local
// filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config captures where the sink writes.
type Config struct {
	// ResultsPath receives one row per extracted item.
	ResultsPath string `mapstructure:"results_path" yaml:"results_path"`
	// ErrorsPath receives one row per failed item. Empty disables error rows.
	ErrorsPath string `mapstructure:"errors_path" yaml:"errors_path"`
}

type resultRow struct {
	Title               string `csv:"title"`
	Author              string `csv:"author"`
	RecommendationCount int    `csv:"recommendation_count"`
	URL                 string `csv:"url"`
	ScrapedAt           string `csv:"scraped_at"`
}

type errorRow struct {
	URL          string `csv:"url"`
	Error        string `csv:"error"`
	Timestamp    string `csv:"timestamp"`
	AttemptCount int    `csv:"attempt_count"`
}

// CSVSink appends records to CSV files. The header row is written only when
// a file starts out empty, so repeated runs keep appending.
type CSVSink struct {
	mu      sync.Mutex
	results *csvFile
	errors  *csvFile
}

var _ crawler.Sink = (*CSVSink)(nil)

// New opens (creating if needed) the configured files.
func New(cfg Config) (*CSVSink, error) {
	if strings.TrimSpace(cfg.ResultsPath) == "" {
		return nil, fmt.Errorf("results path is required")
	}
	results, err := openCSV(cfg.ResultsPath)
	if err != nil {
		return nil, err
	}
	sink := &CSVSink{results: results}
	if strings.TrimSpace(cfg.ErrorsPath) != "" {
		errs, err := openCSV(cfg.ErrorsPath)
		if err != nil {
			_ = results.close()
			return nil, err
		}
		sink.errors = errs
	}
	return sink, nil
}

// Paths lists the files this sink writes, results first.
func (s *CSVSink) Paths() []string {
	paths := []string{s.results.path}
	if s.errors != nil {
		paths = append(paths, s.errors.path)
	}
	return paths
}

// WriteResults appends result rows and syncs the file.
func (s *CSVSink) WriteResults(_ context.Context, records []crawler.ResultRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]resultRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, resultRow{
			Title:               r.Title,
			Author:              r.Author,
			RecommendationCount: r.RecommendationCount,
			URL:                 r.URL,
			ScrapedAt:           r.ScrapedAt.UTC().Format(time.RFC3339),
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.append(&rows)
}

// WriteErrors appends error rows. It is a no-op when no errors file is configured.
func (s *CSVSink) WriteErrors(_ context.Context, records []crawler.ErrorRecord) error {
	if len(records) == 0 || s.errors == nil {
		return nil
	}
	rows := make([]errorRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, errorRow{
			URL:          r.URL,
			Error:        r.Error,
			Timestamp:    r.Timestamp.UTC().Format(time.RFC3339),
			AttemptCount: r.AttemptCount,
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors.append(&rows)
}

// Close flushes and closes both files.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.results != nil {
		errs = append(errs, s.results.close())
	}
	if s.errors != nil {
		errs = append(errs, s.errors.close())
	}
	return errors.Join(errs...)
}

type csvFile struct {
	path      string
	file      *os.File
	hasHeader bool
}

func openCSV(path string) (*csvFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &csvFile{path: path, file: file, hasHeader: info.Size() > 0}, nil
}

func (f *csvFile) append(rows any) error {
	if f.file == nil {
		return fmt.Errorf("write %s: file closed", f.path)
	}
	var err error
	if f.hasHeader {
		err = gocsv.MarshalWithoutHeaders(rows, f.file)
	} else {
		err = gocsv.Marshal(rows, f.file)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	f.hasHeader = true
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", f.path, err)
	}
	return nil
}

func (f *csvFile) close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	return nil
}
