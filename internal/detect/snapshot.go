// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

// Snapshot is one normalized hardware sample. Unsupported or failed signals
// are zero, never absent.
type Snapshot struct {
	// GPUUtilization is GPU busy percentage, 0-100.
	GPUUtilization float64 `json:"gpuUtilization"`

	// GPUMemoryUsage is memory in use as a percentage, 0-100.
	GPUMemoryUsage float64 `json:"gpuMemoryUsage"`

	// TokensPerSecond is a best-effort generation speed estimate.
	TokensPerSecond float64 `json:"tokensPerSecond"`

	// InferenceActive is true while a connection to the model server port is ESTABLISHED.
	InferenceActive bool `json:"inferenceActive"`

	// Latency is milliseconds per token, 1000/TokensPerSecond.
	Latency float64 `json:"latency"`

	// Temperature is the GPU temperature in Celsius, 0 when unknown.
	Temperature float64 `json:"temperature"`
}

// Zero returns the snapshot reported for unsupported hosts and failures.
func Zero() Snapshot {
	return Snapshot{}
}

// IsZero reports whether every field is zero.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// latencyFor derives milliseconds per token from a tokens/sec estimate.
func latencyFor(tps float64) float64 {
	if tps > 0 {
		return 1000 / tps
	}
	return 0
}

// normalize clamps percentages and fills Latency.
func normalize(s Snapshot) Snapshot {
	s.GPUUtilization = clampPercent(s.GPUUtilization)
	s.GPUMemoryUsage = clampPercent(s.GPUMemoryUsage)
	if s.TokensPerSecond < 0 {
		s.TokensPerSecond = 0
	}
	s.Latency = latencyFor(s.TokensPerSecond)
	return s
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
