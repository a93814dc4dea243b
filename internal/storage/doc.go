// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists received request metrics and error reports.
//
// The server's sink endpoints write every accepted report to a SQLite
// database (pure Go driver, no cgo) and the summary endpoint aggregates it.
//
// # Usage
//
//	store, err := storage.Open("~/.runnerchat/metrics.db")
//	defer store.Close()
//
//	err = store.RecordMetrics(ctx, report, time.Now())
//	summary, err := store.Summary(ctx, 20)
//
// # Storage Location
//
// The database lives at server.database_path, ~/.runnerchat/metrics.db by default.
package storage
