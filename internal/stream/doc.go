// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes a chat response body into an ordered sequence of
// events.
//
// Two wire shapes are supported:
//
//   - ModePlain: the body is raw text. Every non-empty decoded chunk is a
//     Token and the end of the body is End.
//   - ModeStructured: the body is a series of frames separated by a blank
//     line, each carrying "data: " and a JSON object
//     {"type":"token"|"sources","text":...,"sources":[...],"done":bool}.
//
// Decoding is incremental. A multi-byte character or a frame split across
// reads is held back until the rest arrives, so the events do not depend on
// how the body was chunked. Malformed frames are logged and skipped.
//
// # Usage
//
//	dec := stream.NewDecoder(resp.Body, stream.ModeStructured, stream.WithLogger(logger))
//	for ev, err := range dec.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    switch ev.Kind {
//	    case stream.EventToken:
//	        msg.AppendToken(ev.Text)
//	    case stream.EventSources:
//	        msg.SetSources(ev.Sources)
//	    }
//	}
package stream
