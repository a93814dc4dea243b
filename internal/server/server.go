// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/exporter"
	"github.com/jeranaias/runnerchat/internal/storage"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr matches the chat server's default metrics port.
	DefaultAddr = "127.0.0.1:3001"

	// MaxRequestBodySize bounds sink payloads.
	MaxRequestBodySize = 64 * 1024

	// DefaultRecentLimit is how many records the summary includes.
	DefaultRecentLimit = 20

	// MaxRecentLimit caps the summary's recent query parameter.
	MaxRecentLimit = 200

	// DefaultVersion is reported until WithVersion sets the build version.
	DefaultVersion = "dev"
)

// SnapshotSource yields the current hardware snapshot. *detect.Cache
// implements it.
type SnapshotSource interface {
	Get(ctx context.Context) detect.Snapshot
}

// MetricsStore persists sink payloads. *storage.Store implements it.
type MetricsStore interface {
	RecordMetrics(ctx context.Context, r telemetry.MetricsReport, receivedAt time.Time) error
	RecordError(ctx context.Context, r telemetry.ErrorReport) error
	Summary(ctx context.Context, recentLimit int) (storage.Summary, error)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the metrics HTTP API.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server

	hardware SnapshotSource
	platform detect.Platform
	store    MetricsStore
	metrics  *exporter.Metrics
	cors     *CORSConfig
	limiter  *RateLimiter
	logger   *zap.Logger
	version  string

	startTime time.Time
	now       func() time.Time

	mu sync.RWMutex
}

// NewServer creates a server answering hardware queries from hardware.
// An empty addr uses DefaultAddr.
func NewServer(addr string, hardware SnapshotSource) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:      addr,
		router:    http.NewServeMux(),
		hardware:  hardware,
		cors:      DefaultCORSConfig(),
		limiter:   NewRateLimiter(120),
		logger:    zap.NewNop(),
		version:   DefaultVersion,
		startTime: time.Now(),
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

// WithPlatform sets the platform reported by /health.
func (s *Server) WithPlatform(p detect.Platform) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform = p
	return s
}

// WithStore enables persistence and the summary endpoint.
func (s *Server) WithStore(store MetricsStore) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	return s
}

// WithMetrics enables Prometheus accounting and GET /metrics.
func (s *Server) WithMetrics(m *exporter.Metrics) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	return s
}

// WithCORS replaces the CORS configuration.
func (s *Server) WithCORS(c *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		s.cors = c
	}
	return s
}

// WithRateLimit sets the per-client budget. Zero disables limiting.
func (s *Server) WithRateLimit(perMinute int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perMinute <= 0 {
		s.limiter = nil
	} else {
		s.limiter = NewRateLimiter(perMinute)
	}
	return s
}

// WithVersion sets the version reported by /health. Empty keeps the default.
func (s *Server) WithVersion(v string) *Server {
	if v == "" {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.logger = l
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/gpu-metrics", s.handleGPUMetrics)

	s.router.HandleFunc("POST /api/metrics/log", s.handleMetricsLog)
	s.router.HandleFunc("POST /api/metrics/error", s.handleMetricsError)
	s.router.HandleFunc("GET /api/metrics/summary", s.handleSummary)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /metrics", s.handlePrometheus)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(s.logger),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	logger := s.logger
	version := s.version
	s.mu.Unlock()

	logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("version", version))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	logger := s.logger
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}
	logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// WatchHardware refreshes the Prometheus gauges from the snapshot source
// every interval until ctx is done. It does nothing without WithMetrics.
func (s *Server) WatchHardware(ctx context.Context, interval time.Duration) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return
	}
	detect.NewPoller(s.hardware, interval, m.ObserveSnapshot).Run(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(w, status, ErrorResponse{Error: errMsg, Message: message})
}
