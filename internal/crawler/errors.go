package crawler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExecutorClosed is returned by an executor used after Close.
	ErrExecutorClosed = errors.New("executor closed")
	// ErrExecutorNotInitialized is returned by an executor used before Initialize.
	ErrExecutorNotInitialized = errors.New("executor not initialized")
	// ErrNavigationTimeout marks a navigation that ran past its own deadline.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrMissingField marks a detail page without a required field.
	ErrMissingField = errors.New("required field missing")
)

// NetworkError reports a navigation that failed after all retries.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("navigate %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError reports page markup missing required fields or rejected by the parser.
type ParseError struct {
	URL string
	// Fields lists the required fields that were not found.
	Fields []string
	Err    error
}

func (e *ParseError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("parse %s: %v: %s", e.URL, e.Err, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ScrapingError wraps any other failure for a URL, including retry exhaustion.
type ScrapingError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ScrapingError) Error() string {
	return fmt.Sprintf("scrape %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ScrapingError) Unwrap() error {
	return e.Err
}

// AttemptCount reports how many attempts produced err. Errors that carry no
// attempt information count as a single attempt.
func AttemptCount(err error) int {
	if err == nil {
		return 0
	}
	var scrapeErr *ScrapingError
	if errors.As(err, &scrapeErr) && scrapeErr.Attempts > 0 {
		return scrapeErr.Attempts
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Attempts > 0 {
		return netErr.Attempts
	}
	return 1
}
