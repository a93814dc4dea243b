// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/config"
	"github.com/jeranaias/runnerchat/internal/logging"
	"github.com/jeranaias/runnerchat/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const rootLongDesc = `runnerchat talks to a locally hosted language-model server.

It streams chat answers (optionally grounded in your documents), tracks
time-to-first-token and response time for every exchange, and samples
GPU utilization, memory and generation speed from the host.`

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the runnerchat command tree.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "runnerchat",
		Short:         "Streaming chat client and hardware monitor for a local model server",
		Long:          rootLongDesc,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.runnerchat/config.toml, or $"+config.EnvConfigPath+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: console or json (overrides config)")

	root.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newAskCmd(a),
		newMonitorCmd(a),
		newProbeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}
	logger, err := logging.New(logging.Options{Level: level, Format: format})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	config.SetGlobal(cfg)
	return nil
}

// loadConfig reads --config when given. A missing file yields the defaults so
// `config init` can create it.
func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		return config.Load()
	}
	path := util.ExpandHome(a.configPath)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.Parse("")
	}
	return config.LoadFromPath(path)
}

// configFile returns the config file path in effect.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return util.ExpandHome(a.configPath), nil
	}
	return config.ConfigPath()
}
