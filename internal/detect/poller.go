// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"time"
)

// DefaultPollInterval matches the dashboard refresh cadence.
const DefaultPollInterval = 2 * time.Second

// Getter returns the current snapshot. *Cache implements it.
type Getter interface {
	Get(ctx context.Context) Snapshot
}

// Poller calls a Getter on a fixed interval and hands each snapshot to a
// callback. Overlap with other pollers is absorbed by the Cache.
type Poller struct {
	src      Getter
	interval time.Duration
	fn       func(Snapshot)
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(src Getter, interval time.Duration, fn func(Snapshot)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{src: src, interval: interval, fn: fn}
}

// Run polls immediately and then on every tick until ctx is done. The
// ticker is stopped on return.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	snap := p.src.Get(ctx)
	if ctx.Err() != nil {
		return
	}
	p.fn(snap)
}
