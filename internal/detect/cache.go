// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFreshnessWindow is how long a sample is reused.
const DefaultFreshnessWindow = 500 * time.Millisecond

// DefaultProbeTimeout bounds one shared probe.
const DefaultProbeTimeout = 10 * time.Second

// Source produces snapshots. *Collector implements it.
type Source interface {
	Collect(ctx context.Context) Snapshot
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) Snapshot

// Collect calls f.
func (f SourceFunc) Collect(ctx context.Context) Snapshot { return f(ctx) }

type cacheEntry struct {
	snap       Snapshot
	capturedAt time.Time
}

// Cache holds a single snapshot shared by every caller. An entry is reused
// while now - capturedAt < window. Callers that find it stale at the same
// time share one probe.
type Cache struct {
	src   Source
	now   func() time.Time
	group singleflight.Group

	probeTimeout time.Duration

	mu     sync.Mutex
	entry  *cacheEntry
	window time.Duration

	probes atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithProbeTimeout bounds a single probe. Non-positive values are ignored.
func WithProbeTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// NewCache creates a cache in front of src. A non-positive window uses
// DefaultFreshnessWindow.
func NewCache(src Source, window time.Duration, opts ...CacheOption) *Cache {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	c := &Cache{src: src, now: time.Now, window: window, probeTimeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached snapshot or probes for a new one.
func (c *Cache) Get(ctx context.Context) Snapshot {
	return c.GetAt(ctx, c.now())
}

// GetAt is Get with an explicit current time.
//
// The probe is shared, so it does not inherit the cancellation of the caller
// that started it; it runs until done or until the probe timeout. A caller
// whose ctx ends first gets a zeroed snapshot and the probe result is still
// cached for everyone else.
func (c *Cache) GetAt(ctx context.Context, now time.Time) Snapshot {
	if snap, ok := c.lookup(now); ok {
		return snap
	}

	ch := c.group.DoChan("probe", func() (any, error) {
		// A probe that finished just before this one started may have refreshed the entry.
		if snap, ok := c.lookup(now); ok {
			return snap, nil
		}

		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.probeTimeout)
		defer cancel()
		snap := c.src.Collect(probeCtx)
		c.probes.Add(1)

		c.mu.Lock()
		c.entry = &cacheEntry{snap: snap, capturedAt: now}
		c.mu.Unlock()
		return snap, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		return Zero()
	}
}

func (c *Cache) lookup(now time.Time) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil && now.Sub(c.entry.capturedAt) < c.window {
		return c.entry.snap, true
	}
	return Snapshot{}, false
}

// Peek returns the cached snapshot and its capture time without probing.
func (c *Cache) Peek() (Snapshot, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return Snapshot{}, time.Time{}, false
	}
	return c.entry.snap, c.entry.capturedAt, true
}

// Invalidate drops the cached entry so the next Get probes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Window returns the freshness window.
func (c *Cache) Window() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// SetWindow changes the freshness window, e.g. after a config reload.
func (c *Cache) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = window
}

// Probes returns how many times the source has been invoked.
func (c *Cache) Probes() int64 {
	return c.probes.Load()
}
