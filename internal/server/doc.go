// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local HTTP API for hardware and chat metrics.
//
// Endpoints:
//   - GET  /api/gpu-metrics     - Cached hardware snapshot
//   - POST /api/metrics/log     - Accept a completed-exchange metrics report
//   - POST /api/metrics/error   - Accept a failed-exchange report
//   - GET  /api/metrics/summary - Aggregates over stored reports
//   - GET  /health              - Health check
//   - GET  /metrics             - Prometheus exposition
//
// Every request goes through recovery, security headers, CORS, logging and
// per-client rate limiting, in that order.
package server
