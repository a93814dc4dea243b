// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/config"
	"github.com/jeranaias/runnerchat/internal/session"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

// =============================================================================
// CHAT CLIENT
// =============================================================================

// chatClient is a session wired to the configured endpoints and sinks.
type chatClient struct {
	session  *session.Session
	reporter *telemetry.Reporter
	logger   *zap.Logger
}

// clientOptions overrides config for one command invocation.
type clientOptions struct {
	baseURL  string
	rag      bool
	observer func(session.Update)
}

func newChatClient(cfg *config.Config, logger *zap.Logger, opts clientOptions) *chatClient {
	chat := cfg.Chat
	if opts.baseURL != "" {
		chat.BaseURL = opts.baseURL
	}

	transport := session.NewHTTPTransport(chat.ChatURL(), chat.RAGURL())
	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithRAG(opts.rag || chat.RAG),
		session.WithHistoryLimit(chat.HistoryLimit),
		session.WithRequestTimeout(chat.RequestTimeout()),
	}
	if opts.observer != nil {
		sessOpts = append(sessOpts, session.WithObserver(opts.observer))
	}

	c := &chatClient{logger: logger}
	if cfg.Telemetry.Enabled {
		tel := cfg.Telemetry
		sink := telemetry.NewHTTPSink(tel.MetricsURL(chat.BaseURL), tel.ErrorURL(chat.BaseURL), tel.Timeout())
		c.reporter = telemetry.NewReporter(sink, sink,
			telemetry.WithQueueSize(tel.QueueSize),
			telemetry.WithDeliveryTimeout(tel.Timeout()),
			telemetry.WithReporterLogger(logger),
		)
		sessOpts = append(sessOpts, session.WithReporter(c.reporter))
	}

	c.session = session.New(transport, sessOpts...)
	return c
}

// Close abandons any exchange in flight and flushes queued reports.
func (c *chatClient) Close() {
	c.session.Close()
	if c.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.reporter.Close(ctx); err != nil {
		c.logger.Warn("telemetry reports not flushed", zap.Error(err))
	}
	stats := c.reporter.Stats()
	c.logger.Debug("telemetry delivered",
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped),
	)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes each assistant message to out as it grows. It is the
// session observer for interactive commands.
type streamPrinter struct {
	out io.Writer

	mu      sync.Mutex
	request string
	printed string
}

func newStreamPrinter(out io.Writer) *streamPrinter {
	return &streamPrinter{out: out}
}

func (p *streamPrinter) observe(u session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.RequestID != p.request {
		p.request = u.RequestID
		p.printed = ""
	}
	if u.Message == nil {
		return
	}

	text := u.Message.Content
	switch {
	case text == p.printed:
		return
	case u.Message.Failed:
		if p.printed != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprint(p.out, ErrorStyle.Render(text))
	case strings.HasPrefix(text, p.printed):
		fmt.Fprint(p.out, text[len(p.printed):])
	default:
		fmt.Fprint(p.out, "\n"+text)
	}
	p.printed = text
}

// wrote reports whether anything was written for requestID.
func (p *streamPrinter) wrote(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.request == requestID && p.printed != ""
}

// =============================================================================
// RESULT OUTPUT
// =============================================================================

// printOutcome finishes the streamed output of one exchange: citations and
// statistics on success, an explanation on failure.
func printOutcome(out io.Writer, p *streamPrinter, res session.Result, err error, showStats bool) {
	if p.wrote(res.RequestID) {
		fmt.Fprintln(out)
	}

	switch {
	case err == nil && res.State == session.StateCompleted:
		if len(res.Message.Sources) > 0 {
			fmt.Fprintln(out, DimStyle.Render("Sources:"))
			for i, src := range res.Message.Sources {
				fmt.Fprintf(out, "  %s %s\n", DimStyle.Render(fmt.Sprintf("[%d]", i+1)), src)
			}
		}
		if showStats {
			fmt.Fprintln(out, DimStyle.Render(formatStats(res.Metrics)))
		}

	case session.IsAPIError(err):
		// No assistant message exists for a rejected request.
		fmt.Fprintln(out, ErrorStyle.Render(session.Apology))
		fmt.Fprintln(out, DimStyle.Render("("+err.Error()+")"))

	case session.IsNetworkError(err):
		fmt.Fprintln(out, DimStyle.Render("("+err.Error()+")"))

	case errors.Is(err, context.Canceled), errors.Is(err, session.ErrClosed):
		fmt.Fprintln(out, WarningStyle.Render("[cancelled]"))
	}
}

func formatStats(m telemetry.RequestMetrics) string {
	ttft := "-"
	if m.HasFirstToken() {
		ttft = m.TimeToFirstToken.Round(time.Millisecond).String()
	}
	return fmt.Sprintf("first token %s · total %s · %d tokens in · %d tokens out",
		ttft, m.TotalResponseTime.Round(time.Millisecond), m.InputTokens, m.OutputTokens)
}
