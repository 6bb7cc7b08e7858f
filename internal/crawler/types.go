// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// ResultRecord is one extracted catalog item. It is immutable once created.
type ResultRecord struct {
	Title               string    `json:"title"`
	Author              string    `json:"author"`
	RecommendationCount int       `json:"recommendation_count"`
	URL                 string    `json:"url"`
	ScrapedAt           time.Time `json:"scraped_at"`
}

// ErrorRecord describes an item that exhausted its retries or failed extraction.
type ErrorRecord struct {
	URL          string    `json:"url"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
	AttemptCount int       `json:"attempt_count"`
}

// ListingPage is what the parser pulls out of one catalog listing page.
type ListingPage struct {
	Links []string
	// Next is the absolute URL of the following listing page, empty on the last page.
	Next string
}

// Detail holds the fields extracted from an item page.
type Detail struct {
	Title               string
	Author              string
	RecommendationCount int
}

// QueueStats is a point-in-time snapshot of the work queue.
type QueueStats struct {
	QueueSize           int     `json:"queue_size"`
	InFlight            int     `json:"in_flight"`
	Processed           int     `json:"processed"`
	Failed              int     `json:"failed"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}
