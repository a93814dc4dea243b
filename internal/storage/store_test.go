// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/runnerchat/internal/telemetry"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_CreatesDirectory(t *testing.T) {
	store := openTemp(t)
	_, err := os.Stat(filepath.Dir(store.Path()))
	assert.NoError(t, err)
}

func TestOpen_Memory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	sum, err := store.Summary(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalRequests)
	assert.Zero(t, sum.ErrorRate)
	assert.Empty(t, sum.Recent)
	assert.NotNil(t, sum.Recent)
}

func TestSummary(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	reports := []telemetry.MetricsReport{
		{MessageID: "a", TokensIn: 2, TokensOut: 10, ResponseTimeMs: 1000, TimeToFirstTokenMs: 100},
		{MessageID: "b", TokensIn: 3, TokensOut: 20, ResponseTimeMs: 2000, TimeToFirstTokenMs: 300},
		{MessageID: "c", TokensIn: 1, TokensOut: 30, ResponseTimeMs: 3000, TimeToFirstTokenMs: 200},
	}
	for i, r := range reports {
		require.NoError(t, store.RecordMetrics(ctx, r, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, store.RecordError(ctx, telemetry.ErrorReport{
		ErrorType:   telemetry.ErrorTypeAPI,
		StatusCode:  500,
		InputLength: 5,
		Timestamp:   base,
	}))

	sum, err := store.Summary(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(3), sum.TotalRequests)
	assert.Equal(t, int64(1), sum.TotalErrors)
	assert.InDelta(t, 0.25, sum.ErrorRate, 1e-9)
	assert.InDelta(t, 2000, sum.AvgResponseTimeMs, 1e-9)
	assert.InDelta(t, 200, sum.AvgTimeToFirstTokenMs, 1e-9)
	assert.InDelta(t, 20, sum.AvgTokensOut, 1e-9)

	require.Len(t, sum.Recent, 2)
	assert.Equal(t, "c", sum.Recent[0].MessageID)
	assert.Equal(t, "b", sum.Recent[1].MessageID)
	assert.Equal(t, base.Add(2*time.Second), sum.Recent[0].ReceivedAt)
}

func TestRecentErrors(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordError(ctx, telemetry.ErrorReport{ErrorType: telemetry.ErrorTypeNetwork, InputLength: 3, Timestamp: base}))
	require.NoError(t, store.RecordError(ctx, telemetry.ErrorReport{ErrorType: telemetry.ErrorTypeAPI, StatusCode: 502, InputLength: 9, Timestamp: base.Add(time.Minute)}))

	errs, err := store.RecentErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, telemetry.ErrorTypeAPI, errs[0].ErrorType)
	assert.Equal(t, 502, errs[0].StatusCode)
	assert.Equal(t, telemetry.ErrorTypeNetwork, errs[1].ErrorType)
	assert.Equal(t, base, errs[1].Timestamp)
}

func TestPrune(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordMetrics(ctx, telemetry.MetricsReport{MessageID: "old"}, old))
	require.NoError(t, store.RecordMetrics(ctx, telemetry.MetricsReport{MessageID: "new"}, recent))
	require.NoError(t, store.RecordError(ctx, telemetry.ErrorReport{ErrorType: telemetry.ErrorTypeNetwork, Timestamp: old}))

	n, err := store.Prune(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].MessageID)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordMetrics(ctx, telemetry.MetricsReport{MessageID: "kept", TokensOut: 4}, time.Now()))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "kept", recent[0].MessageID)
}
