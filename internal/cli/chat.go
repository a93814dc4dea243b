// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/runnerchat/internal/config"
	"github.com/jeranaias/runnerchat/internal/export"
	"github.com/jeranaias/runnerchat/internal/model"
	"github.com/jeranaias/runnerchat/internal/util"
)

const chatLongDesc = `Start an interactive chat session.

Answers stream to the terminal as they arrive. Press Ctrl+C while an answer
is streaming to stop it; the partial answer is kept and you can ask again.
Press Ctrl+C or Ctrl+D at the prompt to leave.

Interactive commands:
  /rag       toggle document-grounded answers
  /reset     start a new conversation
  /history   show the conversation so far
  /save      write the conversation to a .md or .json file
  /stats     toggle timing statistics after each answer
  /help      show this list
  /quit      exit

Examples:
  runnerchat chat
  runnerchat chat --rag --stats
  runnerchat chat --url http://192.168.1.42:3001`

type chatCommander struct {
	app   *app
	url   string
	rag   bool
	stats bool
}

func newChatCmd(a *app) *cobra.Command {
	cmder := &chatCommander{app: a}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.url, "url", "", "chat server base URL (overrides chat.base_url)")
	cmd.Flags().BoolVar(&cmder.rag, "rag", false, "ground answers in indexed documents")
	cmd.Flags().BoolVar(&cmder.stats, "stats", false, "print time-to-first-token and total time after each answer")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	printer := newStreamPrinter(out)
	client := newChatClient(c.app.cfg, c.app.logger, clientOptions{
		baseURL:  c.url,
		rag:      c.rag,
		observer: printer.observe,
	})
	defer client.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := chatHistoryPath()
	loadHistory(line, historyFile)
	defer saveHistory(line, historyFile)

	// While a prompt is open liner owns Ctrl+C; during an answer it arrives
	// as a signal and stops that answer.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	repl := &chatREPL{out: out, client: client, printer: printer, stats: c.stats}
	repl.printWelcome()

	for {
		input, err := line.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !repl.command(input) {
				return nil
			}
			continue
		}
		repl.exchange(ctx, input, interrupts)
	}
}

// =============================================================================
// REPL
// =============================================================================

type chatREPL struct {
	out     io.Writer
	client  *chatClient
	printer *streamPrinter
	stats   bool
}

func (r *chatREPL) printWelcome() {
	mode := "plain chat"
	if r.client.session.RAG() {
		mode = "document-grounded"
	}
	fmt.Fprintln(r.out, TitleStyle.Render("runnerchat")+" "+DimStyle.Render("("+mode+", /help for commands)"))
}

// exchange sends one message and prints the streamed answer. A value on
// interrupts abandons it.
func (r *chatREPL) exchange(ctx context.Context, input string, interrupts <-chan os.Signal) {
	// Drop an interrupt that arrived while no answer was streaming.
	select {
	case <-interrupts:
	default:
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-done:
		}
	}()

	res, err := r.client.session.Send(reqCtx, input)
	printOutcome(r.out, r.printer, res, err, r.stats)
}

// command runs a slash command and reports whether the REPL should continue.
func (r *chatREPL) command(input string) bool {
	name, _, _ := strings.Cut(input, " ")
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return false

	case "/rag":
		enabled := !r.client.session.RAG()
		r.client.session.SetRAG(enabled)
		fmt.Fprintf(r.out, "document-grounded answers %s\n", onOff(enabled))

	case "/stats":
		r.stats = !r.stats
		fmt.Fprintf(r.out, "statistics %s\n", onOff(r.stats))

	case "/reset", "/clear":
		if err := r.client.session.Reset(); err != nil {
			fmt.Fprintln(r.out, ErrorStyle.Render("cannot reset: "+err.Error()))
			break
		}
		fmt.Fprintln(r.out, "conversation cleared")

	case "/history":
		r.printHistory()

	case "/save":
		_, arg, _ := strings.Cut(input, " ")
		path, err := export.ToFile(r.client.session.Messages(), strings.TrimSpace(arg), nil)
		if err != nil {
			fmt.Fprintln(r.out, ErrorStyle.Render("cannot save: "+err.Error()))
			break
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("saved "+path))

	case "/help", "/h", "/?":
		fmt.Fprintln(r.out, "/rag /reset /history /save [path] /stats /help /quit")

	default:
		fmt.Fprintln(r.out, WarningStyle.Render("unknown command "+name+", try /help"))
	}
	return true
}

const historyPreviewRunes = 400

func (r *chatREPL) printHistory() {
	msgs := r.client.session.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("(no messages yet)"))
		return
	}
	for _, m := range msgs {
		label := "you"
		if m.Role == model.RoleAssistant {
			label = "assistant"
		}
		text := util.TruncateRunes(m.Content, historyPreviewRunes)
		if m.Failed {
			text = ErrorStyle.Render(text)
		}
		fmt.Fprintf(r.out, "%s %s\n", LabelStyle.Render(label+":"), text)
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

func chatHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

func loadHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
