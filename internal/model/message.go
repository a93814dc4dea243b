// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// An assistant message starts out streaming: its content only grows through
// AppendToken until Freeze, after which it never changes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	Content string `json:"content"`

	// Sources holds citation references for RAG answers, in server order.
	Sources []string `json:"sources,omitempty"`

	// Failed marks an assistant message whose text is the apology shown after a failed exchange.
	Failed bool `json:"failed,omitempty"`

	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder // merged into Content by Freeze
}

// NewMessage creates a complete message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty assistant message in streaming state.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// AppendToken appends streamed text. It is a no-op once the message is frozen.
func (m *Message) AppendToken(token string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.WriteString(token)
}

// SetSources replaces the citation list. It is a no-op once the message is frozen.
func (m *Message) SetSources(sources []string) {
	if !m.IsStreaming {
		return
	}
	m.Sources = cloneStrings(sources)
}

// Text returns the current content, including text still being streamed.
func (m *Message) Text() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Freeze ends streaming and fixes the content.
func (m *Message) Freeze() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// Fail replaces whatever was streamed with text and freezes the message.
func (m *Message) Fail(text string) {
	m.streamContent.Reset()
	m.Content = text
	m.Sources = nil
	m.Failed = true
	m.IsStreaming = false
}

// Snapshot returns an independent copy safe to hand to another goroutine.
func (m *Message) Snapshot() Message {
	return Message{
		ID:          m.ID,
		Role:        m.Role,
		Timestamp:   m.Timestamp,
		Content:     m.Text(),
		Sources:     cloneStrings(m.Sources),
		Failed:      m.Failed,
		IsStreaming: m.IsStreaming,
	}
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text()) == ""
}

// EstimateTokens returns the approximate token count of the content.
func (m *Message) EstimateTokens() int {
	return EstimateTokens(m.Text())
}

// EstimateTokens approximates a token count as one token per four
// characters, rounded up. It is a heuristic, not a tokenizer.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
