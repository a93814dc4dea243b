// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"
)

// Frame types understood in structured mode.
const (
	FrameToken   = "token"
	FrameSources = "sources"
)

// doneSentinel is accepted as an explicit end-of-stream frame.
const doneSentinel = "[DONE]"

// wireFrame is the JSON payload of one structured frame.
type wireFrame struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Done    bool     `json:"done,omitempty"`
}

// =============================================================================
// FRAMER
// =============================================================================

// framer splits buffered bytes on blank-line delimiters.
type framer struct {
	pending    []byte
	discarding bool
	maxSize    int
	logger     *zap.Logger
}

// push appends chunk and returns every complete frame now available.
func (f *framer) push(chunk []byte) [][]byte {
	f.pending = append(f.pending, chunk...)

	var frames [][]byte
	for {
		idx, width := findDelimiter(f.pending)
		if idx < 0 {
			break
		}
		frame := f.pending[:idx]
		f.pending = f.pending[idx+width:]
		if f.discarding {
			f.discarding = false
			continue
		}
		frames = append(frames, bytes.Clone(frame))
	}

	if len(f.pending) > f.maxSize {
		if !f.discarding {
			f.logger.Warn("dropping oversized stream frame", zap.Int("max_bytes", f.maxSize))
		}
		f.discarding = true
		// Keep enough bytes to complete a delimiter that straddles the cut.
		keep := min(3, len(f.pending))
		f.pending = bytes.Clone(f.pending[len(f.pending)-keep:])
	}

	// Reclaim the consumed prefix once the buffer drains.
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// rest returns the trailing unterminated frame at end of body, if any.
func (f *framer) rest() []byte {
	if f.discarding || len(bytes.TrimSpace(f.pending)) == 0 {
		return nil
	}
	out := f.pending
	f.pending = nil
	return out
}

// findDelimiter returns the position and width of the earliest blank line.
func findDelimiter(b []byte) (int, int) {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// =============================================================================
// FRAME HANDLING
// =============================================================================

// framePayload joins the data: lines of a frame. Other SSE fields and
// comments are ignored. ok is false when the frame has no data line.
func framePayload(frame []byte) ([]byte, bool) {
	var parts [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := line[len("data:"):]
		data = bytes.TrimPrefix(data, []byte(" "))
		parts = append(parts, data)
	}
	if parts == nil {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}

// handleFrame turns one complete frame into zero or more events.
func (d *Decoder) handleFrame(frame []byte) {
	payload, ok := framePayload(frame)
	if !ok {
		if len(bytes.TrimSpace(frame)) > 0 {
			d.logger.Debug("ignoring frame without data field", zap.Int("bytes", len(frame)))
		}
		return
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return
	}
	if string(payload) == doneSentinel {
		d.end()
		return
	}

	var wf wireFrame
	if err := json.Unmarshal(payload, &wf); err != nil {
		d.logger.Warn("dropping malformed stream frame",
			zap.Error(err),
			zap.ByteString("payload", truncate(payload, 200)),
		)
		return
	}

	switch wf.Type {
	case FrameToken:
		if wf.Text != "" {
			d.queue = append(d.queue, Token(wf.Text))
		}
	case FrameSources:
		d.queue = append(d.queue, Sources(wf.Sources))
	default:
		d.logger.Warn("dropping stream frame with unknown type", zap.String("type", wf.Type))
		return
	}

	if wf.Done {
		d.end()
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
