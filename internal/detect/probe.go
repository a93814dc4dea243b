// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/util"
)

// Probe takes one hardware sample. An error means the primary signal could
// not be read; the Collector turns it into a zero snapshot.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (Snapshot, error)
}

// ProbeConfig carries everything the probes need from the host.
type ProbeConfig struct {
	// GOOS picks the connection-state command.
	GOOS string

	// ModelPort is the model server port.
	ModelPort int

	// LlamaLogPath is tailed for tokens/sec on Apple hosts.
	LlamaLogPath string

	// ProcessPattern matches the model server in ps output.
	ProcessPattern string

	// PowermetricsSudo runs powermetrics through "sudo -n".
	PowermetricsSudo bool

	// NvidiaSmi is the nvidia-smi executable.
	NvidiaSmi string

	Runner CommandRunner

	// ReadTail returns the last lines of a file. Defaults to util.TailLines.
	ReadTail func(path string, n int) ([]string, error)

	Logger *zap.Logger
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.Runner == nil {
		c.Runner = ExecRunner{}
	}
	if c.ReadTail == nil {
		c.ReadTail = util.TailLines
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.NvidiaSmi == "" {
		c.NvidiaSmi = "nvidia-smi"
	}
	if c.ProcessPattern == "" {
		c.ProcessPattern = "llama"
	}
	return c
}

// ProbeFor returns the probe for a platform. It has no side effects.
func ProbeFor(p Platform, cfg ProbeConfig) Probe {
	cfg = cfg.withDefaults()
	switch p {
	case PlatformApple:
		return &appleProbe{cfg: cfg}
	case PlatformNvidia:
		return &nvidiaProbe{cfg: cfg}
	default:
		return fallbackProbe{}
	}
}

// fallbackProbe reports zeros on hosts without a supported tool.
type fallbackProbe struct{}

func (fallbackProbe) Name() string { return PlatformFallback.String() }

func (fallbackProbe) Sample(context.Context) (Snapshot, error) {
	return Zero(), nil
}
