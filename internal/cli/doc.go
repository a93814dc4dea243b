// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the runnerchat command line.
//
// Commands:
//
//	serve     run the metrics API (hardware snapshot, sink receivers, /metrics)
//	chat      interactive streaming chat REPL
//	ask       one-shot question; exits non-zero when the exchange fails
//	monitor   live hardware dashboard, or JSON lines when not on a terminal
//	probe     take one hardware sample and print it
//	config    show, locate, create or validate the config file
//
// Every command loads the TOML config (see internal/config) and builds a zap
// logger before it runs. Logs go to stderr so streamed answers on stdout can
// be piped.
package cli
