// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/runnerchat/internal/util"
)

// logTailLines is how much of the model runner log is scanned for speed.
const logTailLines = 20

var (
	gpuResidencyRe = regexp.MustCompile(`GPU (?:HW )?active residency:\s*([0-9]+(?:\.[0-9]+)?)%`)
	tokensPerSecRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*tokens(?:/sec| per second)`)
)

var errNoResidency = errors.New("no GPU active residency in powermetrics output")

// appleProbe samples Apple Silicon hosts.
type appleProbe struct {
	cfg ProbeConfig
}

func (p *appleProbe) Name() string { return PlatformApple.String() }

// Sample reads GPU residency from powermetrics. The remaining signals are
// best-effort and fall back to zero on their own.
func (p *appleProbe) Sample(ctx context.Context) (Snapshot, error) {
	name, args := "powermetrics", []string{"--samplers", "gpu_power", "-n", "1", "-i", "500", "-o", "stdout"}
	if p.cfg.PowermetricsSudo {
		name, args = "sudo", append([]string{"-n", "powermetrics"}, args...)
	}

	out, err := p.cfg.Runner.Run(ctx, name, args...)
	if err != nil {
		return Zero(), fmt.Errorf("powermetrics: %w", err)
	}
	residency, err := parseGPUResidency(string(out))
	if err != nil {
		return Zero(), err
	}

	snap := Snapshot{
		GPUUtilization:  residency,
		GPUMemoryUsage:  p.processMemory(ctx),
		InferenceActive: connectionActive(ctx, p.cfg, "darwin"),
	}
	if snap.InferenceActive {
		snap.TokensPerSecond = p.logTokensPerSecond()
	}
	return normalize(snap), nil
}

// processMemory sums %MEM over model server processes.
func (p *appleProbe) processMemory(ctx context.Context) float64 {
	out, err := p.cfg.Runner.Run(ctx, "ps", "-eo", "pid,pmem,pcpu,command")
	if err != nil {
		p.cfg.Logger.Debug("ps failed", zap.Error(err))
		return 0
	}
	return parsePSMemory(string(out), p.cfg.ProcessPattern)
}

// logTokensPerSecond returns the most recent speed printed by the model runner.
func (p *appleProbe) logTokensPerSecond() float64 {
	lines, err := p.cfg.ReadTail(util.ExpandHome(p.cfg.LlamaLogPath), logTailLines)
	if err != nil {
		p.cfg.Logger.Debug("model runner log unavailable", zap.String("path", p.cfg.LlamaLogPath), zap.Error(err))
		return 0
	}
	return parseTokensPerSecond(lines)
}

// parseGPUResidency extracts the GPU busy percentage.
func parseGPUResidency(out string) (float64, error) {
	m := gpuResidencyRe.FindStringSubmatch(out)
	if m == nil {
		return 0, errNoResidency
	}
	return strconv.ParseFloat(m[1], 64)
}

// parsePSMemory sums the pmem column of ps lines whose command contains pattern.
func parsePSMemory(out, pattern string) float64 {
	var total float64
	for i, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if i == 0 && len(fields) > 0 && fields[0] == "PID" {
			continue
		}
		if len(fields) < 4 {
			continue
		}
		if !strings.Contains(strings.Join(fields[3:], " "), pattern) {
			continue
		}
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
			total += v
		}
	}
	return total
}

// parseTokensPerSecond returns the last speed found in lines, or 0.
func parseTokensPerSecond(lines []string) float64 {
	for i := len(lines) - 1; i >= 0; i-- {
		matches := tokensPerSecRe.FindAllStringSubmatch(lines[i], -1)
		if len(matches) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64); err == nil {
			return v
		}
	}
	return 0
}
