// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the chat data structures: messages with their
// streaming state and source citations, and the conversation that owns them.
//
// Message and Conversation are not safe for concurrent use. The chat session
// serializes access and hands observers value snapshots.
package model
