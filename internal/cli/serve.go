// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/config"
	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/exporter"
	"github.com/jeranaias/runnerchat/internal/server"
	"github.com/jeranaias/runnerchat/internal/storage"
)

const serveLongDesc = `Run the metrics API.

Endpoints:
  GET  /api/gpu-metrics       current hardware snapshot
  POST /api/metrics/log       request metrics from chat clients
  POST /api/metrics/error     failed-exchange reports from chat clients
  GET  /api/metrics/summary   totals, averages and error rate
  GET  /health                liveness and platform
  GET  /metrics               Prometheus exposition

Changes to hardware.freshness_ms in the config file apply without a restart.

Examples:
  runnerchat serve
  runnerchat serve --addr 0.0.0.0:3001 --retention 720h
  runnerchat serve --no-store`

type serveCommander struct {
	app       *app
	addr      string
	noStore   bool
	retention time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	cmder := &serveCommander{app: a}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hardware and request metrics API",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.addr, "addr", "", "listen address (default server.host:server.port)")
	cmd.Flags().BoolVar(&cmder.noStore, "no-store", false, "do not persist reports to SQLite")
	cmd.Flags().DurationVar(&cmder.retention, "retention", 0, "delete stored reports older than this at startup (0 keeps everything)")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	ctx, stop := withInterrupt(ctx)
	defer stop()

	cfg, logger := c.app.cfg, c.app.logger
	addr := c.addr
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	stack, err := newServeStack(cfg, logger, addr, !c.noStore)
	if err != nil {
		return err
	}
	defer stack.Close()

	if c.retention > 0 && stack.store != nil {
		n, err := stack.store.Prune(ctx, time.Now().Add(-c.retention))
		if err != nil {
			return err
		}
		logger.Info("pruned stored reports", zap.Int64("deleted", n), zap.Duration("retention", c.retention))
	}

	if path, err := c.app.configFile(); err == nil {
		if _, statErr := os.Stat(path); !errors.Is(statErr, fs.ErrNotExist) {
			go func() {
				err := config.Watch(ctx, path, stack.applyConfig, func(err error) {
					logger.Warn("config reload failed", zap.Error(err))
				})
				if err != nil {
					logger.Warn("config watch stopped", zap.Error(err))
				}
			}()
		}
	}

	go stack.server.WatchHardware(ctx, cfg.Hardware.PollInterval())

	errCh := make(chan error, 1)
	go func() { errCh <- stack.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stack.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// =============================================================================
// SERVE STACK
// =============================================================================

// serveStack is everything behind the metrics API.
type serveStack struct {
	server    *server.Server
	collector *detect.Collector
	cache     *detect.Cache
	store     *storage.Store
	metrics   *exporter.Metrics
	logger    *zap.Logger
}

func newServeStack(cfg *config.Config, logger *zap.Logger, addr string, persist bool) (*serveStack, error) {
	collector := detect.NewHostCollector(hostOptions(cfg), logger)
	platform := collector.Platform()

	s := &serveStack{
		collector: collector,
		cache:     detect.NewCache(collector, cfg.Hardware.FreshnessWindow(), detect.WithProbeTimeout(probeTimeout(cfg))),
		metrics:   exporter.New(platform.String()),
		logger:    logger,
	}

	s.server = server.NewServer(addr, s.cache).
		WithPlatform(platform).
		WithMetrics(s.metrics).
		WithCORS(server.NewCORSConfig(cfg.Server.CORSOrigins)).
		WithRateLimit(cfg.Server.RateLimitPerMinute).
		WithVersion(Version).
		WithLogger(logger)

	if persist {
		store, err := storage.Open(cfg.Server.DatabasePath)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.server.WithStore(store)
		logger.Info("storing reports", zap.String("path", store.Path()))
	}
	return s, nil
}

// applyConfig takes the settings that can change while serving.
func (s *serveStack) applyConfig(cfg *config.Config) {
	window := cfg.Hardware.FreshnessWindow()
	if window == s.cache.Window() {
		return
	}
	s.cache.SetWindow(window)
	s.logger.Info("hardware freshness window updated", zap.Duration("window", window))
}

// Close releases the database.
func (s *serveStack) Close() {
	samples, failures := s.collector.Stats()
	s.logger.Debug("hardware collector stats", zap.Int64("samples", samples), zap.Int64("failures", failures))
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close metrics database", zap.Error(err))
		}
	}
}
