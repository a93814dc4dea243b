// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/runnerchat/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func testOptions() *Options {
	return &Options{
		Title:             "Release notes",
		IncludeTimestamps: true,
		Now:               func() time.Time { return fixedNow },
	}
}

func transcript() []model.Message {
	return []model.Message{
		{Role: model.RoleUser, Content: "What changed?", Timestamp: fixedNow},
		{Role: model.RoleAssistant, Content: "Two fixes.", Sources: []string{"CHANGELOG.md", "docs/fixes.md"}, Timestamp: fixedNow},
		{Role: model.RoleUser, Content: "And then?", Timestamp: fixedNow},
		{Role: model.RoleAssistant, Content: "Sorry, the server failed.", Failed: true, Timestamp: fixedNow},
	}
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions()).Export(transcript())
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "title: Release notes\n")
	assert.Contains(t, md, "messages: 4\n")
	assert.Contains(t, md, "exported: 2025-03-14T09:26:53Z\n")
	assert.Contains(t, md, "# Release notes\n")
	assert.Contains(t, md, "### You <sub>09:26:53</sub>\n\nWhat changed?\n")
	assert.Contains(t, md, "**Sources**\n\n1. CHANGELOG.md\n2. docs/fixes.md\n")
	assert.Contains(t, md, "> Sorry, the server failed.\n")
}

func TestMarkdownExporter_NoTimestamps(t *testing.T) {
	opts := testOptions()
	opts.IncludeTimestamps = false

	out, err := NewMarkdownExporter(opts).Export(transcript()[:1])
	require.NoError(t, err)
	assert.Contains(t, string(out), "### You\n\nWhat changed?\n")
	assert.NotContains(t, string(out), "<sub>")
}

func TestMarkdownExporter_EscapesTitle(t *testing.T) {
	opts := testOptions()
	opts.Title = "notes: #1 [draft]"

	out, err := NewMarkdownExporter(opts).Export(transcript()[:1])
	require.NoError(t, err)
	assert.Contains(t, string(out), `title: "notes: #1 [draft]"`)
	assert.Contains(t, string(out), `# notes: \#1 \[draft\]`)
}

func TestExporters_RejectEmpty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(nil)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = NewJSONExporter(nil).Export(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter(testOptions()).Export(transcript())
	require.NoError(t, err)

	var doc struct {
		Title    string          `json:"title"`
		Exported time.Time       `json:"exported"`
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "Release notes", doc.Title)
	assert.True(t, doc.Exported.Equal(fixedNow))
	require.Len(t, doc.Messages, 4)
	assert.Equal(t, []string{"CHANGELOG.md", "docs/fixes.md"}, doc.Messages[1].Sources)
	assert.True(t, doc.Messages[3].Failed)
}

func TestForPath(t *testing.T) {
	tests := []struct {
		path string
		ext  string
	}{
		{"out.json", ".json"},
		{"OUT.JSON", ".json"},
		{"out.md", ".md"},
		{"out.txt", ".md"},
		{"out", ".md"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ext, ForPath(tt.path, nil).FileExtension())
		})
	}
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()

	msgs := append(transcript(), model.Message{Role: model.RoleAssistant, Content: "partial", IsStreaming: true})
	path, err := ToFile(msgs, filepath.Join(dir, "nested", "chat"), testOptions())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "chat.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "messages: 4\n")
	assert.NotContains(t, string(data), "partial")
}

func TestToFile_JSON(t *testing.T) {
	path, err := ToFile(transcript(), filepath.Join(t.TempDir(), "chat.json"), testOptions())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestToFile_OnlyStreaming(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleAssistant, IsStreaming: true}}
	_, err := ToFile(msgs, filepath.Join(t.TempDir(), "x.md"), testOptions())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDefaultFilename(t *testing.T) {
	assert.Equal(t, "chat_20250314_092653.md", DefaultFilename(fixedNow))
}
