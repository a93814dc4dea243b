// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/runnerchat/internal/model"
)

// Request is the body posted to the chat endpoint. Plain chat sends
// {message, history}; RAG chat adds query and rag.
type Request struct {
	Message string               `json:"message"`
	Query   string               `json:"query,omitempty"`
	History []model.HistoryEntry `json:"history"`
	RAG     bool                 `json:"rag,omitempty"`
}

// Response is an open streaming response. The caller closes Body.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport opens a streaming response for a request. A returned error is
// a network failure; a non-2xx status is not an error at this layer.
type Transport interface {
	Open(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// =============================================================================
// HTTP TRANSPORT
// =============================================================================

// HTTPTransport posts JSON to the chat server.
type HTTPTransport struct {
	ChatURL string
	RAGURL  string

	// Client has no timeout of its own; the request context bounds it.
	Client *http.Client
}

// NewHTTPTransport creates a transport for the given endpoints.
func NewHTTPTransport(chatURL, ragURL string) *HTTPTransport {
	return &HTTPTransport{
		ChatURL: chatURL,
		RAGURL:  ragURL,
		Client:  &http.Client{},
	}
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, req Request) (*Response, error) {
	url := t.ChatURL
	if req.RAG {
		url = t.RAGURL
	}
	if req.History == nil {
		req.History = []model.HistoryEntry{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RAG {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// drainAndClose discards what is left of a body so the connection can be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
