// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// =============================================================================
// EVENTS
// =============================================================================

// EventKind tags an Event.
type EventKind int

const (
	// EventToken carries text to append to the live message.
	EventToken EventKind = iota + 1

	// EventSources carries a citation list that replaces the current one.
	EventSources

	// EventEnd is terminal. Nothing follows it.
	EventEnd
)

// String returns the kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventSources:
		return "sources"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one decoded stream event.
type Event struct {
	Kind    EventKind
	Text    string
	Sources []string
}

// Token returns a token event.
func Token(text string) Event {
	return Event{Kind: EventToken, Text: text}
}

// Sources returns a sources event. A nil list becomes an empty one.
func Sources(list []string) Event {
	out := make([]string, len(list))
	copy(out, list)
	return Event{Kind: EventSources, Sources: out}
}

// End returns the terminal event.
func End() Event {
	return Event{Kind: EventEnd}
}

// =============================================================================
// MODES
// =============================================================================

// Mode selects the wire shape a Decoder expects.
type Mode int

const (
	// ModePlain treats the body as raw text chunks.
	ModePlain Mode = iota

	// ModeStructured treats the body as data: framed JSON events.
	ModeStructured
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeStructured {
		return "structured"
	}
	return "plain"
}
