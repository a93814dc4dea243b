// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/runnerchat/internal/model"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("conversation has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	Export(msgs []model.Message) ([]byte, error)
	FileExtension() string
}

// Options configures export behavior.
type Options struct {
	// Title heads the Markdown document.
	Title string

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Now stamps the export. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		Title:             "Chat transcript",
		IncludeTimestamps: true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ForPath picks an exporter from the extension of path. Anything other than
// .json gets Markdown.
func ForPath(path string, opts *Options) Exporter {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONExporter(opts)
	}
	return NewMarkdownExporter(opts)
}

// ToFile writes msgs to path. A path without an extension gets the
// exporter's. Messages still streaming are left out. Returns the path written.
func ToFile(msgs []model.Message, path string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultFilename(opts.now())
	}

	exporter := ForPath(path, opts)
	if filepath.Ext(path) == "" {
		path += exporter.FileExtension()
	}

	content, err := exporter.Export(settled(msgs))
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// DefaultFilename names a Markdown transcript after t.
func DefaultFilename(t time.Time) string {
	return "chat_" + t.Format("20060102_150405") + ".md"
}

func settled(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsStreaming {
			continue
		}
		out = append(out, m)
	}
	return out
}
