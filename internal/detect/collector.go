// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HostOptions configures NewHostCollector.
type HostOptions struct {
	ModelPort        int
	LlamaLogPath     string
	ProcessPattern   string
	PowermetricsSudo bool
	CommandTimeout   time.Duration
}

// Collector produces snapshots from a platform probe and never fails.
type Collector struct {
	platform Platform
	probe    Probe
	logger   *zap.Logger

	samples  atomic.Int64
	failures atomic.Int64
}

// NewCollector wraps probe. A nil logger is replaced by a no-op logger.
func NewCollector(platform Platform, probe Probe, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{platform: platform, probe: probe, logger: logger}
}

// NewHostCollector detects the running host and builds its probe.
func NewHostCollector(opts HostOptions, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	platform, smi := HostPlatform()
	probe := ProbeFor(platform, ProbeConfig{
		GOOS:             runtime.GOOS,
		ModelPort:        opts.ModelPort,
		LlamaLogPath:     opts.LlamaLogPath,
		ProcessPattern:   opts.ProcessPattern,
		PowermetricsSudo: opts.PowermetricsSudo,
		NvidiaSmi:        smi,
		Runner:           ExecRunner{Timeout: opts.CommandTimeout},
		Logger:           logger,
	})
	logger.Info("hardware collector ready", zap.Stringer("platform", platform))
	return NewCollector(platform, probe, logger)
}

// Platform returns the platform the probe was chosen for.
func (c *Collector) Platform() Platform {
	return c.platform
}

// Collect takes one sample. Probe errors and panics yield Zero().
func (c *Collector) Collect(ctx context.Context) (snap Snapshot) {
	c.samples.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.failures.Add(1)
			c.logger.Error("hardware probe panicked", zap.String("probe", c.probe.Name()), zap.Any("panic", r))
			snap = Zero()
		}
	}()

	s, err := c.probe.Sample(ctx)
	if err != nil {
		c.failures.Add(1)
		c.logger.Debug("hardware probe failed", zap.String("probe", c.probe.Name()), zap.Error(err))
		return Zero()
	}
	return s
}

// Stats returns how many samples were taken and how many failed.
func (c *Collector) Stats() (samples, failures int64) {
	return c.samples.Load(), c.failures.Load()
}

// String describes the collector for logs.
func (c *Collector) String() string {
	return fmt.Sprintf("Collector{platform=%s probe=%s}", c.platform, c.probe.Name())
}
