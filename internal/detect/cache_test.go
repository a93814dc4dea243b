// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource returns a snapshot whose utilization is the call number.
type countingSource struct {
	calls atomic.Int64
}

func (s *countingSource) Collect(context.Context) Snapshot {
	n := s.calls.Add(1)
	return Snapshot{GPUUtilization: float64(n)}
}

func TestCache_ReusesWithinWindow(t *testing.T) {
	src := &countingSource{}
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, 500*time.Millisecond)
	ctx := context.Background()

	first := c.GetAt(ctx, base)
	second := c.GetAt(ctx, base.Add(499*time.Millisecond))

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), c.Probes())
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestCache_RefreshesAtWindowBoundary(t *testing.T) {
	src := &countingSource{}
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, 500*time.Millisecond)
	ctx := context.Background()

	first := c.GetAt(ctx, base)
	// Exactly window-old is stale.
	second := c.GetAt(ctx, base.Add(500*time.Millisecond))

	assert.Equal(t, 1.0, first.GPUUtilization)
	assert.Equal(t, 2.0, second.GPUUtilization)
	assert.Equal(t, int64(2), c.Probes())

	snap, at, ok := c.Peek()
	require.True(t, ok)
	assert.Equal(t, second, snap)
	assert.Equal(t, base.Add(500*time.Millisecond), at)
}

func TestCache_UsesClock(t *testing.T) {
	src := &countingSource{}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, time.Second, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Get(ctx)
	now = now.Add(900 * time.Millisecond)
	c.Get(ctx)
	assert.Equal(t, int64(1), c.Probes())

	now = now.Add(200 * time.Millisecond)
	c.Get(ctx)
	assert.Equal(t, int64(2), c.Probes())
}

func TestCache_ConcurrentStaleCallersShareOneProbe(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int64
	src := SourceFunc(func(context.Context) Snapshot {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return Snapshot{GPUUtilization: 42, InferenceActive: true}
	})

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, 500*time.Millisecond)
	ctx := context.Background()

	const callers = 16
	results := make([]Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.GetAt(ctx, base)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i, r := range results {
		assert.Equal(t, 42.0, r.GPUUtilization, "caller %d", i)
		assert.True(t, r.InferenceActive, "caller %d", i)
	}
}

func TestCache_InvalidateAndWindow(t *testing.T) {
	src := &countingSource{}
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, 0)
	ctx := context.Background()

	assert.Equal(t, DefaultFreshnessWindow, c.Window())

	c.GetAt(ctx, base)
	c.Invalidate()
	_, _, ok := c.Peek()
	assert.False(t, ok)

	c.GetAt(ctx, base)
	assert.Equal(t, int64(2), c.Probes())

	c.SetWindow(2 * time.Second)
	c.SetWindow(-1)
	assert.Equal(t, 2*time.Second, c.Window())

	c.GetAt(ctx, base.Add(1500*time.Millisecond))
	assert.Equal(t, int64(2), c.Probes())
}

func TestCache_FailedProbeIsCachedAsZero(t *testing.T) {
	collector := NewCollector(PlatformNvidia, ProbeFor(PlatformNvidia, ProbeConfig{Runner: &fakeRunner{}}), nil)
	c := NewCache(collector, time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.GetAt(context.Background(), base).IsZero())
	assert.True(t, c.GetAt(context.Background(), base.Add(10*time.Millisecond)).IsZero())

	samples, failures := collector.Stats()
	assert.Equal(t, int64(1), samples)
	assert.Equal(t, int64(1), failures)
}

// ctxSource mirrors Collector: a cancelled context zeroes the sample.
type ctxSource struct {
	calls atomic.Int64
}

func (s *ctxSource) Collect(ctx context.Context) Snapshot {
	s.calls.Add(1)
	if ctx.Err() != nil {
		return Zero()
	}
	return Snapshot{GPUUtilization: 42}
}

func TestCache_CancelledCallerDoesNotPoisonEntry(t *testing.T) {
	src := &ctxSource{}
	c := NewCache(src, time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	c.GetAt(cancelled, base)

	require.Eventually(t, func() bool {
		_, _, ok := c.Peek()
		return ok
	}, time.Second, time.Millisecond)

	snap := c.GetAt(context.Background(), base.Add(100*time.Millisecond))
	assert.Equal(t, 42.0, snap.GPUUtilization)
	assert.Equal(t, int64(1), c.Probes())
	assert.Equal(t, int64(1), src.calls.Load())
}

// blockingSource holds every probe until release is closed.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Collect(context.Context) Snapshot {
	close(s.started)
	<-s.release
	return Snapshot{GPUUtilization: 7}
}

func TestCache_WaiterHonoursOwnContext(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(src, time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	leader := make(chan Snapshot, 1)
	go func() { leader <- c.GetAt(context.Background(), base) }()
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiter := make(chan Snapshot, 1)
	go func() { waiter <- c.GetAt(ctx, base) }()

	select {
	case snap := <-waiter:
		assert.True(t, snap.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stayed blocked after its context ended")
	}

	close(src.release)
	assert.Equal(t, 7.0, (<-leader).GPUUtilization)
	assert.Equal(t, int64(1), c.Probes())
}

func TestCache_ProbeTimeoutBoundsSharedProbe(t *testing.T) {
	var deadline time.Time
	src := SourceFunc(func(ctx context.Context) Snapshot {
		deadline, _ = ctx.Deadline()
		return Snapshot{}
	})
	c := NewCache(src, time.Second, WithProbeTimeout(250*time.Millisecond))

	before := time.Now()
	c.Get(context.Background())

	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, before.Add(250*time.Millisecond), deadline, 200*time.Millisecond)
}

// =============================================================================
// POLLER
// =============================================================================

func TestPoller_PollsImmediatelyAndOnTick(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src, time.Millisecond)

	var mu sync.Mutex
	var seen []Snapshot
	got3 := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPoller(cache, 5*time.Millisecond, func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
		if len(seen) == 3 {
			close(got3)
		}
	})

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-got3:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not deliver three snapshots")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1.0, seen[0].GPUUtilization)
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(NewCache(&countingSource{}, 0), 0, func(Snapshot) {})
	assert.Equal(t, DefaultPollInterval, p.interval)
}
