// Package worker implements the two crawl loops: the Collector walks listing
// pages and feeds the work queue, and the DetailWorker drains the queue in
// adaptive batches and writes what it extracts to a sink.
package worker
