// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/storage"
)

// Source yields hardware snapshots for the dashboard.
type Source interface {
	Snapshot(ctx context.Context) (detect.Snapshot, error)
}

// ErrNoSummary means the source has no request statistics to show.
var ErrNoSummary = errors.New("dashboard: no summary available")

// SummarySource is implemented by sources that can also report chat request
// statistics.
type SummarySource interface {
	Summary(ctx context.Context) (storage.Summary, error)
}

// =============================================================================
// LOCAL
// =============================================================================

// Getter is satisfied by *detect.Cache.
type Getter interface {
	Get(ctx context.Context) detect.Snapshot
}

// Summarizer is satisfied by *storage.Store.
type Summarizer interface {
	Summary(ctx context.Context, recentLimit int) (storage.Summary, error)
}

// LocalSource samples in-process. Store is optional.
type LocalSource struct {
	Hardware Getter
	Store    Summarizer
}

// Snapshot never fails; the collector already zeroes failed samples.
func (s LocalSource) Snapshot(ctx context.Context) (detect.Snapshot, error) {
	return s.Hardware.Get(ctx), nil
}

// Summary reads the local metrics database.
func (s LocalSource) Summary(ctx context.Context) (storage.Summary, error) {
	if s.Store == nil {
		return storage.Summary{}, ErrNoSummary
	}
	return s.Store.Summary(ctx, 0)
}

// =============================================================================
// REMOTE
// =============================================================================

var errStorageDisabled = errors.New("server storage disabled")

// RemoteSource queries a runnerchat server.
type RemoteSource struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteSource creates a source for the server at baseURL.
func NewRemoteSource(baseURL string, timeout time.Duration) *RemoteSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Snapshot fetches GET /api/gpu-metrics.
func (s *RemoteSource) Snapshot(ctx context.Context) (detect.Snapshot, error) {
	var snap detect.Snapshot
	if err := s.getJSON(ctx, "/api/gpu-metrics", &snap); err != nil {
		return detect.Zero(), err
	}
	return snap, nil
}

// Summary fetches GET /api/metrics/summary without recent records.
func (s *RemoteSource) Summary(ctx context.Context) (storage.Summary, error) {
	var sum storage.Summary
	err := s.getJSON(ctx, "/api/metrics/summary?recent=0", &sum)
	if errors.Is(err, errStorageDisabled) {
		return sum, ErrNoSummary
	}
	return sum, err
}

func (s *RemoteSource) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", s.BaseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return errStorageDisabled
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Message != "" {
				return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
			}
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
