// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect samples GPU and inference activity on the local host.
//
// The probe is chosen from the platform alone:
//   - Apple (darwin): powermetrics GPU residency, ps memory share, lsof
//     connection state, tokens/sec from the model runner log
//   - NVIDIA (windows, or any host with nvidia-smi): nvidia-smi utilization,
//     memory and temperature, netstat/ss connection state
//   - Fallback: always the zero snapshot
//
// Collector never fails: a probe error yields a zeroed Snapshot. Cache puts
// a short freshness window in front of the Collector so that many pollers
// cause at most one probe per window.
//
// # Usage
//
//	collector := detect.NewHostCollector(detect.HostOptions{ModelPort: 12434}, logger)
//	cache := detect.NewCache(collector, 500*time.Millisecond)
//	snap := cache.Get(ctx)
package detect
