// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"io"
	"iter"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultReadSize is the buffer size for each read from the body.
	DefaultReadSize = 4096

	// DefaultMaxFrameSize bounds a single structured frame (1MB).
	DefaultMaxFrameSize = 1024 * 1024
)

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a response body into events. A Decoder is bound to one body
// and is not safe for concurrent use.
type Decoder struct {
	src          io.Reader
	mode         Mode
	logger       *zap.Logger
	readSize     int
	maxFrameSize int

	buf  []byte
	text *encoding.Decoder
	// carry holds an incomplete UTF-8 sequence from the previous read (plain mode).
	carry []byte

	frames framer

	queue []Event
	ended bool // End queued, later input ignored
	done  bool // End delivered
	err   error
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for dropped-frame warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithReadSize sets the read buffer size.
func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// WithMaxFrameSize bounds how many bytes a structured frame may buffer
// before it is discarded.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrameSize = n
		}
	}
}

// NewDecoder creates a decoder reading src in the given mode.
func NewDecoder(src io.Reader, mode Mode, opts ...Option) *Decoder {
	d := &Decoder{
		src:          src,
		mode:         mode,
		logger:       zap.NewNop(),
		readSize:     DefaultReadSize,
		maxFrameSize: DefaultMaxFrameSize,
		text:         unicode.UTF8.NewDecoder(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buf = make([]byte, d.readSize)
	d.frames = framer{maxSize: d.maxFrameSize, logger: d.logger}
	return d
}

// Mode returns the decoder's wire mode.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Next blocks until the next event is available. After End has been
// returned it returns io.EOF. A read failure is returned once every event
// decoded before it has been delivered. Next checks ctx between reads; an
// in-progress read is interrupted by closing the body or cancelling the
// request that produced it.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			if ev.Kind == EventEnd {
				d.done = true
				d.queue = nil
			}
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}
		if d.err != nil {
			return Event{}, d.err
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		n, err := d.src.Read(d.buf)
		if n > 0 {
			d.feed(d.buf[:n])
		}
		switch {
		case err == io.EOF:
			d.flush()
		case err != nil:
			d.err = err
		}
	}
}

// All returns an iterator over the remaining events. Iteration stops after
// End, or after yielding a non-nil error.
func (d *Decoder) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// feed decodes one chunk read from the body.
func (d *Decoder) feed(chunk []byte) {
	if d.ended {
		return
	}
	if d.mode == ModePlain {
		if text := d.decodeText(chunk, false); text != "" {
			d.queue = append(d.queue, Token(text))
		}
		return
	}

	for _, frame := range d.frames.push(chunk) {
		d.handleFrame(frame)
		if d.ended {
			return
		}
	}
}

// flush handles the end of the body.
func (d *Decoder) flush() {
	if d.ended {
		return
	}
	if d.mode == ModePlain {
		if text := d.decodeText(nil, true); text != "" {
			d.queue = append(d.queue, Token(text))
		}
	} else if rest := d.frames.rest(); rest != nil {
		d.handleFrame(rest)
	}
	d.end()
}

func (d *Decoder) end() {
	if d.ended {
		return
	}
	d.ended = true
	d.queue = append(d.queue, End())
}

// decodeText converts chunk to a string, holding back a trailing partial
// UTF-8 sequence until the next call. Invalid bytes become U+FFFD.
func (d *Decoder) decodeText(chunk []byte, atEOF bool) string {
	src := append(d.carry, chunk...)
	d.carry = nil
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte expands to at most one 3-byte replacement rune.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	nDst, nSrc, err := d.text.Transform(dst, src, atEOF)
	if err == transform.ErrShortSrc {
		d.carry = append([]byte(nil), src[nSrc:]...)
	} else if err != nil {
		d.logger.Warn("utf-8 decode failed", zap.Error(err))
	}
	return string(dst[:nDst])
}
