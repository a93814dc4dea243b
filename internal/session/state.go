// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"

	"github.com/jeranaias/runnerchat/internal/model"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of the current exchange.
type State int

const (
	// StateIdle means no exchange has run, or the last one was abandoned.
	StateIdle State = iota
	// StateSending means the request is out and no response has arrived.
	StateSending
	// StateStreaming means the response body is being consumed.
	StateStreaming
	// StateCompleted means the last exchange finished normally.
	StateCompleted
	// StateErrored means the last exchange failed.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// InFlight reports whether an exchange is running.
func (s State) InFlight() bool {
	return s == StateSending || s == StateStreaming
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyInput is returned for blank input. No request is made.
	ErrEmptyInput = errors.New("session: empty input")

	// ErrBusy is returned when an exchange is already in flight.
	ErrBusy = errors.New("session: exchange already in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Apology replaces the assistant text after a network failure.
const Apology = "Sorry, there was an error processing your request. Please try again."

// ExchangeError describes a failed exchange.
type ExchangeError struct {
	Type       telemetry.ErrorType
	StatusCode int
	Cause      error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Type == telemetry.ErrorTypeAPI:
		return fmt.Sprintf("chat server returned status %d", e.StatusCode)
	case e.Cause != nil:
		return "chat request failed: " + e.Cause.Error()
	default:
		return "chat request failed"
	}
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// IsAPIError reports whether err is a non-success response from the server.
func IsAPIError(err error) bool {
	var ex *ExchangeError
	return errors.As(err, &ex) && ex.Type == telemetry.ErrorTypeAPI
}

// IsNetworkError reports whether err is a transport or body-read failure.
func IsNetworkError(err error) bool {
	var ex *ExchangeError
	return errors.As(err, &ex) && ex.Type == telemetry.ErrorTypeNetwork
}

// =============================================================================
// OBSERVATIONS
// =============================================================================

// Update is delivered to the observer after every state change and every
// applied stream event.
type Update struct {
	RequestID string
	State     State

	// Message is a copy of the live assistant message, nil before one exists.
	Message *model.Message

	// Err is set on the Errored update.
	Err error
}

// Result summarizes a finished exchange.
type Result struct {
	RequestID string
	State     State

	// Message is the final assistant message. Zero when none was created.
	Message model.Message

	// Metrics is set when State is StateCompleted.
	Metrics telemetry.RequestMetrics
}

// HasMessage reports whether the exchange produced an assistant message.
func (r Result) HasMessage() bool {
	return r.Message.ID != ""
}
