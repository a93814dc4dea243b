// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/exporter"
	"github.com/jeranaias/runnerchat/internal/storage"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// =============================================================================
// HELPERS
// =============================================================================

type staticSource struct {
	snap  detect.Snapshot
	calls atomic.Int32
}

func (s *staticSource) Get(context.Context) detect.Snapshot {
	s.calls.Add(1)
	return s.snap
}

type panicSource struct{}

func (panicSource) Get(context.Context) detect.Snapshot { panic("probe exploded") }

func newTestServer(t *testing.T, src SnapshotSource) (*Server, *storage.Store, *exporter.Metrics) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := exporter.New("nvidia")
	s := NewServer("", src).
		WithPlatform(detect.PlatformNvidia).
		WithStore(store).
		WithMetrics(m).
		WithRateLimit(0)
	return s, store, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// GPU METRICS
// =============================================================================

func TestGPUMetrics(t *testing.T) {
	src := &staticSource{snap: detect.Snapshot{
		GPUUtilization:  37.5,
		GPUMemoryUsage:  15,
		TokensPerSecond: 40,
		InferenceActive: true,
		Latency:         25,
		Temperature:     0,
	}}
	s, _, _ := newTestServer(t, src)

	rec := do(t, s.Handler(), "GET", "/api/gpu-metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]any{
		"gpuUtilization":  37.5,
		"gpuMemoryUsage":  15.0,
		"tokensPerSecond": 40.0,
		"inferenceActive": true,
		"latency":         25.0,
		"temperature":     0.0,
	}, got)
}

func TestGPUMetrics_ZeroedSnapshotIsStillOK(t *testing.T) {
	collector := detect.NewCollector(detect.PlatformFallback, detect.ProbeFor(detect.PlatformFallback, detect.ProbeConfig{}), nil)
	s, _, _ := newTestServer(t, detect.NewCache(collector, time.Second))

	rec := do(t, s.Handler(), "GET", "/api/gpu-metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap detect.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.IsZero())
}

func TestGPUMetrics_FailureObject(t *testing.T) {
	s, _, _ := newTestServer(t, panicSource{})

	rec := do(t, s.Handler(), "GET", "/api/gpu-metrics", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Failed to retrieve GPU metrics", body.Error)
	assert.Contains(t, body.Message, "probe exploded")
}

// =============================================================================
// SINK RECEIVERS
// =============================================================================

func TestMetricsLog(t *testing.T) {
	s, store, m := newTestServer(t, &staticSource{})

	rec := do(t, s.Handler(), "POST", "/api/metrics/log",
		`{"message_id":"req-1","tokens_in":2,"tokens_out":2,"response_time_ms":20,"time_to_first_token_ms":10}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "req-1", recent[0].MessageID)
	assert.Equal(t, int64(10), recent[0].TimeToFirstTokenMs)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests))
}

func TestMetricsLog_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		error string
	}{
		{"not json", `{"message_id":`, "Invalid JSON body"},
		{"missing id", `{"tokens_in":1,"tokens_out":1,"response_time_ms":5,"time_to_first_token_ms":1}`, "Invalid report"},
		{"negative tokens", `{"message_id":"x","tokens_in":-1,"tokens_out":1,"response_time_ms":5,"time_to_first_token_ms":1}`, "Invalid report"},
		{"ttft after total", `{"message_id":"x","tokens_in":1,"tokens_out":1,"response_time_ms":5,"time_to_first_token_ms":9}`, "Invalid report"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _ := newTestServer(t, &staticSource{})
			rec := do(t, s.Handler(), "POST", "/api/metrics/log", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.error, body.Error)

			recent, err := store.Recent(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestMetricsLog_FieldNamesInValidationMessage(t *testing.T) {
	s, _, _ := newTestServer(t, &staticSource{})
	rec := do(t, s.Handler(), "POST", "/api/metrics/log", `{"tokens_in":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message_id")
}

func TestMetricsError(t *testing.T) {
	s, store, m := newTestServer(t, &staticSource{})

	rec := do(t, s.Handler(), "POST", "/api/metrics/error",
		`{"error_type":"api_error","status_code":500,"input_length":5,"timestamp":"2025-03-01T09:00:00Z"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	errs, err := store.RecentErrors(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, telemetry.ErrorTypeAPI, errs[0].ErrorType)
	assert.Equal(t, 500, errs[0].StatusCode)
	assert.Equal(t, 5, errs[0].InputLength)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("api_error")))

	rec = do(t, s.Handler(), "POST", "/api/metrics/error",
		`{"error_type":"disk_full","status_code":0,"input_length":5,"timestamp":"2025-03-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), "POST", "/api/metrics/error",
		`{"error_type":"network_error","status_code":0,"input_length":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "timestamp is required")
}

func TestReporterRoundTrip(t *testing.T) {
	s, store, _ := newTestServer(t, &staticSource{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sink := telemetry.NewHTTPSink(ts.URL+"/api/metrics/log", ts.URL+"/api/metrics/error", time.Second)
	ctx := context.Background()

	require.NoError(t, sink.SendMetrics(ctx, telemetry.MetricsReport{MessageID: "m", TokensIn: 1, TokensOut: 3, ResponseTimeMs: 30, TimeToFirstTokenMs: 5}))
	require.NoError(t, sink.SendError(ctx, telemetry.ErrorReport{ErrorType: telemetry.ErrorTypeNetwork, InputLength: 2, Timestamp: time.Now()}))

	sum, err := store.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalRequests)
	assert.Equal(t, int64(1), sum.TotalErrors)
}

// =============================================================================
// SUMMARY, HEALTH, PROMETHEUS
// =============================================================================

func TestSummary(t *testing.T) {
	s, store, _ := newTestServer(t, &staticSource{})
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordMetrics(ctx, telemetry.MetricsReport{
			MessageID:      string(rune('a' + i)),
			TokensOut:      10,
			ResponseTimeMs: 100,
		}, base.Add(time.Duration(i)*time.Second)))
	}

	rec := do(t, s.Handler(), "GET", "/api/metrics/summary?recent=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum storage.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, int64(3), sum.TotalRequests)
	assert.Equal(t, 100.0, sum.AvgResponseTimeMs)
	require.Len(t, sum.Recent, 2)
	assert.Equal(t, "c", sum.Recent[0].MessageID)

	rec = do(t, s.Handler(), "GET", "/api/metrics/summary?recent=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary_WithoutStore(t *testing.T) {
	s := NewServer("", &staticSource{}).WithRateLimit(0)
	rec := do(t, s.Handler(), "GET", "/api/metrics/summary", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Receivers still accept reports without persistence.
	rec = do(t, s.Handler(), "POST", "/api/metrics/log",
		`{"message_id":"x","tokens_in":0,"tokens_out":0,"response_time_ms":0,"time_to_first_token_ms":0}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &staticSource{})
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.startTime = start
	s.now = func() time.Time { return start.Add(90 * time.Second) }

	rec := do(t, s.Handler(), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, HealthResponse{Status: "ok", Version: DefaultVersion, Platform: "nvidia", UptimeSecs: 90}, h)
}

func TestHealth_ReportsBuildVersion(t *testing.T) {
	s, _, _ := newTestServer(t, &staticSource{})
	s.WithVersion("1.4.2").WithVersion("")

	rec := do(t, s.Handler(), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "1.4.2", h.Version)
}

func TestPrometheusEndpoint(t *testing.T) {
	s, _, m := newTestServer(t, &staticSource{})
	m.ObserveSnapshot(detect.Snapshot{GPUUtilization: 50})

	rec := do(t, s.Handler(), "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `runnerchat_hardware_gpu_utilization_percent{platform="nvidia"} 50`)

	bare := NewServer("", &staticSource{}).WithRateLimit(0)
	assert.Equal(t, http.StatusNotFound, do(t, bare.Handler(), "GET", "/metrics", "").Code)
}

func TestWatchHardware(t *testing.T) {
	src := &staticSource{snap: detect.Snapshot{GPUUtilization: 80, InferenceActive: true}}
	s, _, m := newTestServer(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WatchHardware(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 80.0, testutil.ToFloat64(m.GPUUtilization.WithLabelValues("nvidia")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceActive.WithLabelValues("nvidia")))
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, &staticSource{})
	rec := do(t, s.Handler(), "POST", "/api/gpu-metrics", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", &staticSource{}).WithRateLimit(0)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.server != nil
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
