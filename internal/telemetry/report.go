// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// PAYLOADS
// =============================================================================

// MetricsReport is the payload posted to the metrics sink.
type MetricsReport struct {
	MessageID          string `json:"message_id" validate:"required,max=128"`
	TokensIn           int    `json:"tokens_in" validate:"gte=0"`
	TokensOut          int    `json:"tokens_out" validate:"gte=0"`
	ResponseTimeMs     int64  `json:"response_time_ms" validate:"gte=0"`
	TimeToFirstTokenMs int64  `json:"time_to_first_token_ms" validate:"gte=0,ltefield=ResponseTimeMs"`
}

// ErrorType classifies a failed exchange.
type ErrorType string

const (
	// ErrorTypeNetwork covers connection and body-read failures. StatusCode is 0.
	ErrorTypeNetwork ErrorType = "network_error"

	// ErrorTypeAPI covers non-2xx responses. StatusCode is the real status.
	ErrorTypeAPI ErrorType = "api_error"
)

// ErrorReport is the payload posted to the error sink.
type ErrorReport struct {
	ErrorType   ErrorType `json:"error_type" validate:"required,oneof=network_error api_error"`
	StatusCode  int       `json:"status_code" validate:"gte=0,lte=599"`
	InputLength int       `json:"input_length" validate:"gte=0"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
}

// =============================================================================
// SINKS
// =============================================================================

// MetricsSink accepts finalized request metrics.
type MetricsSink interface {
	SendMetrics(ctx context.Context, report MetricsReport) error
}

// ErrorSink accepts failed-exchange reports.
type ErrorSink interface {
	SendError(ctx context.Context, report ErrorReport) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) SendMetrics(context.Context, MetricsReport) error { return nil }
func (NopSink) SendError(context.Context, ErrorReport) error     { return nil }

// HTTPSink posts reports as JSON. It implements MetricsSink and ErrorSink.
type HTTPSink struct {
	client     *http.Client
	metricsURL string
	errorURL   string
}

// NewHTTPSink creates a sink posting to the given URLs. Each post is bounded
// by timeout.
func NewHTTPSink(metricsURL, errorURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client:     &http.Client{Timeout: timeout},
		metricsURL: metricsURL,
		errorURL:   errorURL,
	}
}

// SendMetrics posts report to the metrics URL.
func (s *HTTPSink) SendMetrics(ctx context.Context, report MetricsReport) error {
	return s.post(ctx, s.metricsURL, report)
}

// SendError posts report to the error URL.
func (s *HTTPSink) SendError(ctx context.Context, report ErrorReport) error {
	return s.post(ctx, s.errorURL, report)
}

func (s *HTTPSink) post(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post report to %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("report sink %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
