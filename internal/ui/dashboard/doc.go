// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dashboard is the terminal hardware monitor behind
// `runnerchat monitor`.
//
// The Model polls a Source on a fixed interval and renders utilization and
// memory bars, generation speed, latency, temperature, and whether the model
// server is busy. When the source can also summarize chat requests, a second
// panel shows totals, averages and the error rate.
//
// Sources:
//
//	LocalSource   samples through a detect.Cache in this process
//	RemoteSource  queries a running server's /api/gpu-metrics
//
// Quitting cancels the in-flight fetch and stops the ticker; no further
// messages are scheduled once the model has quit.
package dashboard
