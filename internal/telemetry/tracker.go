// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/runnerchat/internal/model"
)

// ErrUnknownRequest is returned by Finish for an ID that was never started
// or was already discarded.
var ErrUnknownRequest = errors.New("telemetry: unknown request id")

// =============================================================================
// REQUEST METRICS
// =============================================================================

// RequestMetrics is the timing and size record for one exchange.
type RequestMetrics struct {
	RequestID string `json:"request_id"`

	StartedAt    time.Time `json:"started_at"`
	FirstTokenAt time.Time `json:"first_token_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`

	// InputTokens is ceil(chars/4) of the input text.
	InputTokens int `json:"input_tokens"`

	// OutputTokens counts Token events, one per event.
	OutputTokens int `json:"output_tokens"`

	TimeToFirstToken  time.Duration `json:"time_to_first_token"`
	TotalResponseTime time.Duration `json:"total_response_time"`
}

// HasFirstToken reports whether a non-empty token was observed.
func (m RequestMetrics) HasFirstToken() bool {
	return !m.FirstTokenAt.IsZero()
}

// Report converts a finalized record into the metrics sink payload.
func (m RequestMetrics) Report() MetricsReport {
	return MetricsReport{
		MessageID:          m.RequestID,
		TokensIn:           m.InputTokens,
		TokensOut:          m.OutputTokens,
		ResponseTimeMs:     m.TotalResponseTime.Milliseconds(),
		TimeToFirstTokenMs: m.TimeToFirstToken.Milliseconds(),
	}
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker holds in-flight RequestMetrics keyed by request ID. It is safe for
// concurrent use; records for different IDs are independent.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*RequestMetrics
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*RequestMetrics)}
}

// Start begins tracking requestID at now. Starting an ID again resets it.
func (t *Tracker) Start(requestID, input string, now time.Time) RequestMetrics {
	rec := &RequestMetrics{
		RequestID:   requestID,
		StartedAt:   now,
		InputTokens: model.EstimateTokens(input),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[requestID] = rec
	return *rec
}

// OnFirstToken records the first-token time once. It returns true only on
// the call that set it.
func (t *Tracker) OnFirstToken(requestID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[requestID]
	if !ok || rec.HasFirstToken() {
		return false
	}
	rec.FirstTokenAt = now
	return true
}

// OnTokenObserved counts one Token event.
func (t *Tracker) OnTokenObserved(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[requestID]; ok {
		rec.OutputTokens++
	}
}

// Finish stamps completion at now and derives the durations. Durations are
// clamped so that TotalResponseTime >= TimeToFirstToken >= 0 even if the
// clock stepped backwards. With no token observed, TimeToFirstToken is 0.
// The record stays tracked until Discard.
func (t *Tracker) Finish(requestID string, now time.Time) (RequestMetrics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[requestID]
	if !ok {
		return RequestMetrics{}, ErrUnknownRequest
	}

	rec.CompletedAt = now
	rec.TotalResponseTime = max(now.Sub(rec.StartedAt), 0)
	if rec.HasFirstToken() {
		ttft := max(rec.FirstTokenAt.Sub(rec.StartedAt), 0)
		rec.TimeToFirstToken = min(ttft, rec.TotalResponseTime)
	}
	return *rec, nil
}

// Get returns a copy of the record for requestID.
func (t *Tracker) Get(requestID string) (RequestMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[requestID]
	if !ok {
		return RequestMetrics{}, false
	}
	return *rec, true
}

// Discard forgets requestID.
func (t *Tracker) Discard(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, requestID)
}

// Active returns how many requests are being tracked.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
