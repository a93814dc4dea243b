// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the runnerchat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync, used for config saves
//   - ExpandHome: resolves a leading "~" in configured paths
//   - TruncateRunes: UTF-8 safe truncation for log fields and terminal output
//   - TailLines: reads the last lines of a log file without loading all of it
package util
