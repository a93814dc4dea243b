// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/runnerchat/internal/session"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

const askLongDesc = `Ask a single question and stream the answer to stdout.

The command exits with status 1 when the exchange fails (connection error or
a non-2xx reply from the chat server) and when it is interrupted.

Examples:
  runnerchat ask "What is a KV cache?"
  runnerchat ask --rag "Summarize the onboarding guide"
  runnerchat ask --json "hello" | jq .metrics`

type askCommander struct {
	app     *app
	url     string
	rag     bool
	stats   bool
	jsonOut bool
}

// askResult is the --json output.
type askResult struct {
	RequestID string                   `json:"request_id"`
	State     string                   `json:"state"`
	Content   string                   `json:"content"`
	Sources   []string                 `json:"sources,omitempty"`
	Metrics   *telemetry.MetricsReport `json:"metrics,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func newAskCmd(a *app) *cobra.Command {
	cmder := &askCommander{app: a}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&cmder.url, "url", "", "chat server base URL (overrides chat.base_url)")
	cmd.Flags().BoolVar(&cmder.rag, "rag", false, "ground the answer in indexed documents")
	cmd.Flags().BoolVar(&cmder.stats, "stats", false, "print timing statistics after the answer")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "print the finished exchange as JSON instead of streaming")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, question string) error {
	ctx, stop := withInterrupt(ctx)
	defer stop()

	out := cmd.OutOrStdout()
	opts := clientOptions{baseURL: c.url, rag: c.rag}

	var printer *streamPrinter
	if !c.jsonOut {
		printer = newStreamPrinter(out)
		opts.observer = printer.observe
	}

	client := newChatClient(c.app.cfg, c.app.logger, opts)
	defer client.Close()

	res, err := client.session.Send(ctx, question)

	if c.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(newAskResult(res, err)); encErr != nil {
			return encErr
		}
	} else {
		printOutcome(out, printer, res, err, c.stats)
	}
	return err
}

func newAskResult(res session.Result, err error) askResult {
	r := askResult{
		RequestID: res.RequestID,
		State:     res.State.String(),
		Content:   res.Message.Content,
		Sources:   res.Message.Sources,
	}
	if res.State == session.StateCompleted {
		report := res.Metrics.Report()
		r.Metrics = &report
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
