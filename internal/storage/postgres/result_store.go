// Package postgres provides a Postgres-backed crawl sink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultResultsTable = "catalog_results"
	defaultErrorsTable  = "catalog_errors"
)

// ResultStoreConfig controls the Postgres connection pool used for crawl rows.
type ResultStoreConfig struct {
	DSN             string
	ResultsTable    string
	ErrorsTable     string
	RunID           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes result and error rows into Postgres.
type ResultStore struct {
	pool         execCloser
	resultsTable string
	errorsTable  string
	runID        string
}

var _ crawler.Sink = (*ResultStore)(nil)

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if err := validateTables(&cfg); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{
		pool:         pool,
		resultsTable: cfg.ResultsTable,
		errorsTable:  cfg.ErrorsTable,
		runID:        cfg.RunID,
	}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool execCloser, cfg ResultStoreConfig) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if err := validateTables(&cfg); err != nil {
		return nil, err
	}
	return &ResultStore{
		pool:         pool,
		resultsTable: cfg.ResultsTable,
		errorsTable:  cfg.ErrorsTable,
		runID:        cfg.RunID,
	}, nil
}

func validateTables(cfg *ResultStoreConfig) error {
	if cfg.ResultsTable == "" {
		cfg.ResultsTable = defaultResultsTable
	}
	if cfg.ErrorsTable == "" {
		cfg.ErrorsTable = defaultErrorsTable
	}
	for _, table := range []string{cfg.ResultsTable, cfg.ErrorsTable} {
		if !validTableName.MatchString(table) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// WriteResults inserts one row per record. Rows already stored for the same
// run and URL are left untouched.
func (s *ResultStore) WriteResults(ctx context.Context, records []crawler.ResultRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	title,
	author,
	recommendation_count,
	url,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (run_id, url) DO NOTHING`, s.resultsTable)

	var errs []error
	for _, r := range records {
		if _, err := s.pool.Exec(ctx, query, s.runID, r.Title, r.Author, r.RecommendationCount, r.URL, r.ScrapedAt); err != nil {
			errs = append(errs, fmt.Errorf("insert result %s: %w", r.URL, err))
		}
	}
	return errors.Join(errs...)
}

// WriteErrors inserts one row per failed item.
func (s *ResultStore) WriteErrors(ctx context.Context, records []crawler.ErrorRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	error,
	attempt_count,
	failed_at
) VALUES (
	$1,$2,$3,$4,$5
)`, s.errorsTable)

	var errs []error
	for _, r := range records {
		if _, err := s.pool.Exec(ctx, query, s.runID, r.URL, r.Error, r.AttemptCount, r.Timestamp); err != nil {
			errs = append(errs, fmt.Errorf("insert error row %s: %w", r.URL, err))
		}
	}
	return errors.Join(errs...)
}
