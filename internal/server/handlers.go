// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// ============================================================================
// HARDWARE
// ============================================================================

func (s *Server) handleGPUMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sampleHardware(r.Context())
	if err != nil {
		s.logger.Error("gpu metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve GPU metrics", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// sampleHardware reads the snapshot source, converting a panic into an error.
func (s *Server) sampleHardware(ctx context.Context) (snap detect.Snapshot, err error) {
	if s.hardware == nil {
		return detect.Zero(), errors.New("no hardware source configured")
	}
	defer func() {
		if r := recover(); r != nil {
			snap, err = detect.Zero(), fmt.Errorf("hardware source panicked: %v", r)
		}
	}()
	return s.hardware.Get(ctx), nil
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	UptimeSecs int64  `json:"uptime_secs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	platform := s.platform
	version := s.version
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    version,
		Platform:   platform.String(),
		UptimeSecs: int64(s.now().Sub(s.startTime).Seconds()),
	})
}

// ============================================================================
// METRICS SINK RECEIVERS
// ============================================================================

// AcceptedResponse acknowledges a stored report.
type AcceptedResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleMetricsLog(w http.ResponseWriter, r *http.Request) {
	var report telemetry.MetricsReport
	if !s.decodeBody(w, r, &report) {
		return
	}

	s.mu.RLock()
	store, metrics := s.store, s.metrics
	s.mu.RUnlock()

	if store != nil {
		if err := store.RecordMetrics(r.Context(), report, s.now()); err != nil {
			s.logger.Error("failed to store metrics", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store metrics", err.Error())
			return
		}
	}
	if metrics != nil {
		metrics.ObserveRequest(report)
	}

	s.logger.Debug("metrics report accepted",
		zap.String("message_id", report.MessageID),
		zap.Int("tokens_out", report.TokensOut),
		zap.Int64("response_time_ms", report.ResponseTimeMs),
	)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

func (s *Server) handleMetricsError(w http.ResponseWriter, r *http.Request) {
	var report telemetry.ErrorReport
	if !s.decodeBody(w, r, &report) {
		return
	}

	s.mu.RLock()
	store, metrics := s.store, s.metrics
	s.mu.RUnlock()

	if store != nil {
		if err := store.RecordError(r.Context(), report); err != nil {
			s.logger.Error("failed to store error report", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store error report", err.Error())
			return
		}
	}
	if metrics != nil {
		metrics.ObserveError(report)
	}

	s.logger.Info("client error reported",
		zap.String("error_type", string(report.ErrorType)),
		zap.Int("status_code", report.StatusCode),
		zap.Int("input_length", report.InputLength),
	)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

// decodeBody reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return false
	}
	if err := validateRequest(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report", err.Error())
		return false
	}
	return true
}

// ============================================================================
// SUMMARY
// ============================================================================

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "Metrics storage disabled", "")
		return
	}

	limit := DefaultRecentLimit
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid recent parameter", "recent must be a non-negative integer")
			return
		}
		limit = min(n, MaxRecentLimit)
	}

	sum, err := store.Summary(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to summarize metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to summarize metrics", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ============================================================================
// PROMETHEUS
// ============================================================================

func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		writeError(w, http.StatusNotFound, "Prometheus metrics disabled", "")
		return
	}
	metrics.Handler().ServeHTTP(w, r)
}
