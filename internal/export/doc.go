// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to disk.
//
// Two formats are supported: Markdown for reading and JSON for tooling. The
// format is picked from the file extension.
//
//	path, err := export.ToFile(session.Messages(), "notes.md", nil)
package export
