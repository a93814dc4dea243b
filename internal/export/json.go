// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/runnerchat/internal/model"
)

// JSONExporter exports transcripts as an indented JSON document.
type JSONExporter struct {
	options *Options
}

type jsonTranscript struct {
	Title    string          `json:"title"`
	Exported time.Time       `json:"exported"`
	Messages []model.Message `json:"messages"`
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export renders msgs as JSON. Timestamps are always kept.
func (e *JSONExporter) Export(msgs []model.Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}
	doc := jsonTranscript{
		Title:    e.options.Title,
		Exported: e.options.now().UTC(),
		Messages: msgs,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
