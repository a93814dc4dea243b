// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry correlates request timing with token counts and ships
// the results to the metrics and error sinks.
//
// # Key Types
//
//   - Tracker: per-request timing keyed by request ID (start, first token, finish)
//   - RequestMetrics: the finalized record, convertible to a MetricsReport
//   - MetricsReport / ErrorReport: the sink payloads
//   - HTTPSink: posts reports as JSON to the chat server
//   - Reporter: fire-and-forget delivery through a bounded queue
//
// Token counts are approximations. Input tokens are estimated at four
// characters per token and output tokens count stream events, not
// tokenizer output.
package telemetry
