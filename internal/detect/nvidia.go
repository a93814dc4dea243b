// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// nvidiaQuery is the nvidia-smi field list, in parse order.
const nvidiaQuery = "--query-gpu=utilization.gpu,memory.used,memory.total,temperature.gpu"

// nvidiaProbe samples hosts with nvidia-smi.
type nvidiaProbe struct {
	cfg ProbeConfig
}

func (p *nvidiaProbe) Name() string { return PlatformNvidia.String() }

// Sample reads the first GPU. Tokens/sec is estimated as utilization/10
// while a connection to the model server is open.
func (p *nvidiaProbe) Sample(ctx context.Context) (Snapshot, error) {
	out, err := p.cfg.Runner.Run(ctx, p.cfg.NvidiaSmi, nvidiaQuery, "--format=csv,noheader,nounits")
	if err != nil {
		return Zero(), fmt.Errorf("nvidia-smi: %w", err)
	}

	snap, err := parseNvidiaSmi(string(out))
	if err != nil {
		return Zero(), err
	}

	snap.InferenceActive = connectionActive(ctx, p.cfg, p.cfg.GOOS)
	if snap.InferenceActive {
		snap.TokensPerSecond = snap.GPUUtilization / 10
	}
	return normalize(snap), nil
}

// parseNvidiaSmi parses "util, used, total, temp" from the first line.
// Temperature may be "[N/A]" on some boards and reads as 0.
func parseNvidiaSmi(out string) (Snapshot, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return Zero(), fmt.Errorf("unexpected nvidia-smi output %q", line)
	}

	values := make([]float64, 4)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Zero(), fmt.Errorf("failed to parse nvidia-smi field %d: %w", i, err)
		}
		values[i] = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64); err == nil {
		values[3] = v
	}

	snap := Snapshot{
		GPUUtilization: values[0],
		Temperature:    values[3],
	}
	if values[2] > 0 {
		snap.GPUMemoryUsage = values[1] / values[2] * 100
	}
	return snap, nil
}
