// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/runnerchat/internal/model"
)

func TestHTTPTransport_SelectsEndpoint(t *testing.T) {
	type hit struct {
		path   string
		accept string
		body   map[string]any
	}
	hits := make(chan hit, 2)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		hits <- hit{path: r.URL.Path, accept: r.Header.Get("Accept"), body: body}
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	tr := NewHTTPTransport(ts.URL+"/api/chat", ts.URL+"/api/rag/stream")

	resp, err := tr.Open(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	drainAndClose(resp.Body)

	plain := <-hits
	assert.Equal(t, "/api/chat", plain.path)
	assert.Empty(t, plain.accept)
	assert.Equal(t, "hi", plain.body["message"])
	assert.Equal(t, []any{}, plain.body["history"])
	assert.NotContains(t, plain.body, "rag")
	assert.NotContains(t, plain.body, "query")

	history := []model.HistoryEntry{{Role: model.RoleUser, Content: "before"}}
	resp, err = tr.Open(context.Background(), Request{Message: "docs?", Query: "docs?", History: history, RAG: true})
	require.NoError(t, err)
	drainAndClose(resp.Body)

	rag := <-hits
	assert.Equal(t, "/api/rag/stream", rag.path)
	assert.Equal(t, "text/event-stream", rag.accept)
	assert.Equal(t, true, rag.body["rag"])
	assert.Equal(t, "docs?", rag.body["query"])
	require.Len(t, rag.body["history"], 1)
}

func TestHTTPTransport_NonOKIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	resp, err := NewHTTPTransport(ts.URL, ts.URL).Open(context.Background(), Request{Message: "x"})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewHTTPTransport(url, url).Open(context.Background(), Request{Message: "x"})
	assert.Error(t, err)
}
