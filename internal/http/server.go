// Package http serves the admin surface of the scheduler: health checks,
// Prometheus metrics and an on-demand run trigger.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"finplan/internal/cache"
	"finplan/internal/log"
	"finplan/internal/worker"
)

const runTimeout = 5 * time.Minute

// Runner starts one scheduler pass.
type Runner interface {
	RunOnce(ctx context.Context, trigger string) (worker.RunResult, error)
}

// ReadinessCheck reports whether the backing store can serve requests.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	http.Server
	runner      Runner
	ready       ReadinessCheck
	logger      *log.Logger
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// NewServer configures the admin routes. metrics and ready may be nil.
func NewServer(addr string, runner Runner, metrics http.Handler, ready ReadinessCheck, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		runner:      runner,
		ready:       ready,
		logger:      logger.WithComponent(log.ComponentHTTP),
		rateLimiter: newRateLimiter(runRequestsPerMinute),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("POST /run", s.handleRun)

	s.Handler = log.AccessLog(logger)(withSecurityHeaders(mux))
	return s
}

// RateLimits exposes the per-client windows of POST /run for periodic sweeping.
func (s *Server) RateLimits() cache.Cleaner {
	return s.rateLimiter
}

// Shutdown drains the HTTP server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	if !s.rateLimiter.allow(extractClientIP(r)) {
		logger.WarnContext(ctx, "Run trigger rate limited", log.FieldClientIP, extractClientIP(r))
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		return
	}

	// The batch outlives a disconnecting client.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()

	res, err := s.runner.RunOnce(runCtx, worker.TriggerHTTP)
	if err != nil {
		log.NewStructuredLogger(s.logger).LogError(ctx, "Manual run failed", err, log.ComponentScheduler, log.OpRun, nil)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
