// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs streaming chat exchanges against the chat server.
//
// A Session owns a conversation and processes one exchange at a time:
//
//	Idle -> Sending -> Streaming -> Completed
//	           \           \
//	            +-----------+----> Errored
//
// Send posts the user's input, decodes the response body with the stream
// package, appends tokens to the live assistant message and tracks request
// timing with a telemetry.Tracker. Finished metrics and failed exchanges are
// handed to a Reporter, which must not block.
//
// # Usage
//
//	transport := session.NewHTTPTransport(cfg.ChatURL(), cfg.RAGURL())
//	s := session.New(transport,
//	    session.WithReporter(reporter),
//	    session.WithObserver(func(u session.Update) { render(u) }),
//	)
//	defer s.Close()
//
//	res, err := s.Send(ctx, "hello")
//
// Cancelling ctx or calling Close abandons the exchange: the session returns
// to Idle, nothing is reported, and no further updates are delivered.
package session
