// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/storage"
	"github.com/jeranaias/runnerchat/internal/ui/dashboard"
	"github.com/jeranaias/runnerchat/internal/util"
)

const monitorLongDesc = `Watch GPU utilization, memory, generation speed and latency.

Without --url the host is sampled directly. With --url the dashboard polls a
running "runnerchat serve" instance, including its request statistics.

When stdout is not a terminal (or with --json) one JSON object is printed
per poll instead of the dashboard.

Examples:
  runnerchat monitor
  runnerchat monitor --url http://127.0.0.1:3001
  runnerchat monitor --json --count 5 --interval 1s`

type monitorCommander struct {
	app      *app
	url      string
	interval time.Duration
	jsonOut  bool
	count    int
}

// monitorLine is one JSON line.
type monitorLine struct {
	Timestamp time.Time `json:"timestamp"`
	detect.Snapshot
}

func newMonitorCmd(a *app) *cobra.Command {
	cmder := &monitorCommander{app: a}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live hardware dashboard",
		Long:  monitorLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.url, "url", "", "poll a runnerchat server instead of this host")
	cmd.Flags().DurationVar(&cmder.interval, "interval", 0, "poll interval (default hardware.poll_interval_ms)")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "print JSON lines even on a terminal")
	cmd.Flags().IntVar(&cmder.count, "count", 0, "stop after this many JSON lines (0 runs until interrupted)")

	return cmd
}

func (c *monitorCommander) run(ctx context.Context, out io.Writer) error {
	ctx, stop := withInterrupt(ctx)
	defer stop()

	source, closeSource, err := c.source()
	if err != nil {
		return err
	}
	defer closeSource()

	interval := c.interval
	if interval <= 0 {
		interval = c.app.cfg.Hardware.PollInterval()
	}

	if !c.jsonOut && isTerminal(out) {
		m := dashboard.New(source, interval, dashboard.WithFetchTimeout(c.app.cfg.Hardware.CommandTimeout()*2))
		return dashboard.Run(ctx, m)
	}
	return streamJSON(ctx, out, source, interval, c.count, c.app.logger)
}

// source picks the remote server or the local host.
func (c *monitorCommander) source() (dashboard.Source, func(), error) {
	cfg := c.app.cfg
	if c.url != "" {
		return dashboard.NewRemoteSource(c.url, cfg.Telemetry.Timeout()), func() {}, nil
	}

	collector := detect.NewHostCollector(hostOptions(cfg), c.app.logger)
	local := dashboard.LocalSource{
		Hardware: detect.NewCache(collector, cfg.Hardware.FreshnessWindow(), detect.WithProbeTimeout(probeTimeout(cfg))),
	}

	// Show request statistics when serve has already created the database.
	dbPath := util.ExpandHome(cfg.Server.DatabasePath)
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return local, func() {}, nil
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		c.app.logger.Warn("metrics database unavailable", zap.String("path", dbPath), zap.Error(err))
		return local, func() {}, nil
	}
	local.Store = store
	return local, func() { store.Close() }, nil
}

// sourceGetter adapts a dashboard source to detect.Getter, logging failures
// and substituting the zero snapshot.
type sourceGetter struct {
	source dashboard.Source
	logger *zap.Logger
}

func (g sourceGetter) Get(ctx context.Context) detect.Snapshot {
	snap, err := g.source.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Warn("hardware sample failed", zap.Error(err))
		}
		return detect.Zero()
	}
	return snap
}

// streamJSON prints one line per poll until ctx is done or count lines
// have been written.
func streamJSON(ctx context.Context, out io.Writer, source dashboard.Source, interval time.Duration, count int, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := json.NewEncoder(out)
	var written int
	var writeErr error

	poller := detect.NewPoller(sourceGetter{source: source, logger: logger}, interval, func(s detect.Snapshot) {
		if ctx.Err() != nil {
			return
		}
		if err := enc.Encode(monitorLine{Timestamp: time.Now().UTC(), Snapshot: s}); err != nil {
			writeErr = err
			cancel()
			return
		}
		written++
		if count > 0 && written >= count {
			cancel()
		}
	})
	poller.Run(ctx)
	return writeErr
}
