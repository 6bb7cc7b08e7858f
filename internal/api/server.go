package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// State is the lifecycle stage of the run served by the API.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// StatsProvider exposes live queue statistics.
type StatsProvider interface {
	Stats() crawler.QueueStats
}

// RunInfo identifies the crawl served by the API.
type RunInfo struct {
	RunID   string `json:"run_id"`
	SeedURL string `json:"seed_url"`
}

type runResponse struct {
	RunInfo
	State     State               `json:"state"`
	StartedAt time.Time           `json:"started_at"`
	UptimeMs  int64               `json:"uptime_ms"`
	Queue     crawler.QueueStats  `json:"queue"`
	Summary   *dispatcher.Summary `json:"summary,omitempty"`
}

// Server wires HTTP handlers to the running crawl.
type Server struct {
	router  chi.Router
	stats   StatsProvider
	info    RunInfo
	clock   crawler.Clock
	started time.Time
	logger  *zap.Logger

	mu      sync.RWMutex
	state   State
	summary *dispatcher.Summary
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	stats StatsProvider,
	info RunInfo,
	clock crawler.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		stats:   stats,
		info:    info,
		clock:   clock,
		started: clock.Now(),
		logger:  logger,
		state:   StateStarting,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/run", s.getRun)
		r.Get("/stats", s.getStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetState records a lifecycle transition.
func (s *Server) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Finish records the final summary and marks the run finished or failed.
func (s *Server) Finish(summary dispatcher.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &summary
	if summary.Error != "" {
		s.state = StateFailed
		return
	}
	s.state = StateFinished
}

func (s *Server) snapshot() (State, *dispatcher.Summary) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.summary
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state, _ := s.snapshot()
	switch state {
	case StateStarting, StateRunning:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": string(state)})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "done", "state": string(state)})
	}
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	state, summary := s.snapshot()
	writeJSON(w, http.StatusOK, runResponse{
		RunInfo:   s.info,
		State:     state,
		StartedAt: s.started,
		UptimeMs:  s.clock.Now().Sub(s.started).Milliseconds(),
		Queue:     s.stats.Stats(),
		Summary:   summary,
	})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
