// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one prior message as sent to the chat endpoint.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered message list of one chat session.
type Conversation struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// AddMessage appends msg.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
}

// AddUserMessage appends a user message and returns it.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage appends a streaming assistant message and returns it.
func (c *Conversation) AddAssistantMessage() *Message {
	msg := NewAssistantMessage()
	c.AddMessage(msg)
	return msg
}

// Last returns the most recent message, or nil.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// History returns up to limit of the most recent settled messages, oldest
// first. Streaming, failed and empty messages are skipped. A limit of zero
// returns nothing.
func (c *Conversation) History(limit int) []HistoryEntry {
	if limit <= 0 {
		return nil
	}

	var entries []HistoryEntry
	for i := len(c.Messages) - 1; i >= 0 && len(entries) < limit; i-- {
		m := c.Messages[i]
		if m.IsStreaming || m.Failed || m.IsEmpty() {
			continue
		}
		entries = append(entries, HistoryEntry{Role: m.Role, Content: m.Content})
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// Snapshots returns value copies of every message.
func (c *Conversation) Snapshots() []Message {
	out := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Snapshot()
	}
	return out
}
