// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exporter exposes hardware snapshots and received request metrics
// in Prometheus format.
//
// Gauges follow the latest detect.Snapshot; the server's poller updates them.
// Histograms and counters follow the reports accepted by the sink endpoints.
//
//	m := exporter.New("apple")
//	m.ObserveSnapshot(snap)
//	mux.Handle("GET /metrics", m.Handler())
package exporter
