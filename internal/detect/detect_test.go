// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
)

// fakeRunner answers commands keyed by their program name.
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	if err, ok := f.errs[name]; ok {
		return []byte(f.outputs[name]), err
	}
	out, ok := f.outputs[name]
	if !ok {
		return nil, errors.New(name + ": executable file not found in $PATH")
	}
	return []byte(out), nil
}

func (f *fakeRunner) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

const powermetricsOut = `Machine model: Mac14,6
**** GPU usage ****

GPU HW active frequency: 444 MHz
GPU HW active residency:  37.25% (389 MHz: 12% 486 MHz: 25%)
GPU SW requested state: (P1 : 100%)
`

const psOut = `  PID %MEM %CPU COMMAND
  101  0.3  0.0 /usr/sbin/syslogd
  202 12.5 85.0 /opt/model-runner/llama.cpp/server --port 12434
  203  2.5  1.0 llama-worker
  303  1.0  0.1 /Applications/Safari.app/Contents/MacOS/Safari
`

const lsofOut = `COMMAND   PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
server  202 me   12u  IPv4 0x1      0t0  TCP 127.0.0.1:12434->127.0.0.1:53122 (ESTABLISHED)
`

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// =============================================================================
// PLATFORM DISPATCH
// =============================================================================

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		goos   string
		nvidia bool
		want   Platform
	}{
		{"darwin", false, PlatformApple},
		{"darwin", true, PlatformApple},
		{"windows", false, PlatformNvidia},
		{"linux", true, PlatformNvidia},
		{"linux", false, PlatformFallback},
		{"freebsd", false, PlatformFallback},
	}
	for _, tt := range tests {
		if got := DetectPlatform(tt.goos, tt.nvidia); got != tt.want {
			t.Errorf("DetectPlatform(%q, %v) = %v, want %v", tt.goos, tt.nvidia, got, tt.want)
		}
	}
}

func TestProbeFor(t *testing.T) {
	tests := []struct {
		platform Platform
		want     string
	}{
		{PlatformApple, "apple"},
		{PlatformNvidia, "nvidia"},
		{PlatformFallback, "fallback"},
		{Platform(42), "fallback"},
	}
	for _, tt := range tests {
		if got := ProbeFor(tt.platform, ProbeConfig{}).Name(); got != tt.want {
			t.Errorf("ProbeFor(%v).Name() = %q, want %q", tt.platform, got, tt.want)
		}
	}
}

func TestFallbackProbe(t *testing.T) {
	snap, err := ProbeFor(PlatformFallback, ProbeConfig{}).Sample(context.Background())
	if err != nil || !snap.IsZero() {
		t.Errorf("fallback Sample() = %+v, %v; want zero, nil", snap, err)
	}
}

// =============================================================================
// APPLE PROBE
// =============================================================================

func TestAppleProbe_ActiveInference(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"sudo": powermetricsOut,
		"ps":   psOut,
		"lsof": lsofOut,
	}}
	var tailedPath string
	probe := ProbeFor(PlatformApple, ProbeConfig{
		GOOS:             "darwin",
		ModelPort:        12434,
		LlamaLogPath:     "/tmp/llama.log",
		PowermetricsSudo: true,
		Runner:           runner,
		ReadTail: func(path string, n int) ([]string, error) {
			tailedPath = path
			return []string{
				"eval time = 100 ms / 8 runs (12.50 ms per token, 80.00 tokens per second)",
				"srv  update_slots: 40.5 tokens/sec",
				"srv  idle",
			}, nil
		},
	})

	snap, err := probe.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if !approx(snap.GPUUtilization, 37.25) {
		t.Errorf("GPUUtilization = %v, want 37.25", snap.GPUUtilization)
	}
	if !approx(snap.GPUMemoryUsage, 15.0) {
		t.Errorf("GPUMemoryUsage = %v, want 15.0", snap.GPUMemoryUsage)
	}
	if !snap.InferenceActive {
		t.Error("InferenceActive = false, want true")
	}
	if !approx(snap.TokensPerSecond, 40.5) {
		t.Errorf("TokensPerSecond = %v, want 40.5", snap.TokensPerSecond)
	}
	if !approx(snap.Latency, 1000/40.5) {
		t.Errorf("Latency = %v, want %v", snap.Latency, 1000/40.5)
	}
	if snap.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", snap.Temperature)
	}
	if tailedPath != "/tmp/llama.log" {
		t.Errorf("tailed %q", tailedPath)
	}
	if !runner.called("sudo -n powermetrics --samplers gpu_power -n 1 -i 500 -o stdout") {
		t.Errorf("powermetrics not invoked as expected: %v", runner.calls)
	}
	if !runner.called("lsof -nP -i :12434 -sTCP:ESTABLISHED") {
		t.Errorf("lsof not invoked as expected: %v", runner.calls)
	}
}

func TestAppleProbe_IdleSkipsLog(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"powermetrics": powermetricsOut, "ps": psOut},
		errs:    map[string]error{"lsof": errors.New("exit status 1")},
	}
	probe := ProbeFor(PlatformApple, ProbeConfig{
		GOOS:      "darwin",
		ModelPort: 12434,
		Runner:    runner,
		ReadTail: func(string, int) ([]string, error) {
			t.Error("log read while idle")
			return nil, nil
		},
	})

	snap, err := probe.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if snap.InferenceActive || snap.TokensPerSecond != 0 || snap.Latency != 0 {
		t.Errorf("idle snapshot = %+v", snap)
	}
	if !approx(snap.GPUUtilization, 37.25) {
		t.Errorf("GPUUtilization = %v, want 37.25", snap.GPUUtilization)
	}
	if !runner.called("powermetrics --samplers") {
		t.Errorf("expected powermetrics without sudo: %v", runner.calls)
	}
}

func TestAppleProbe_AuxiliaryFailuresDegrade(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"powermetrics": powermetricsOut, "lsof": lsofOut}}
	probe := ProbeFor(PlatformApple, ProbeConfig{
		GOOS:   "darwin",
		Runner: runner,
		ReadTail: func(string, int) ([]string, error) {
			return nil, os.ErrNotExist
		},
	})

	snap, err := probe.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if snap.GPUMemoryUsage != 0 || snap.TokensPerSecond != 0 || snap.Latency != 0 {
		t.Errorf("snapshot = %+v, want zero memory and speed", snap)
	}
	if !snap.InferenceActive {
		t.Error("InferenceActive should still come from lsof")
	}
}

func TestAppleProbe_PrimaryFailure(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{"missing tool", &fakeRunner{}},
		{"permission denied", &fakeRunner{errs: map[string]error{"powermetrics": errors.New("must be invoked as the superuser")}}},
		{"unparseable", &fakeRunner{outputs: map[string]string{"powermetrics": "no gpu section"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := ProbeFor(PlatformApple, ProbeConfig{GOOS: "darwin", Runner: tt.runner})
			snap, err := probe.Sample(context.Background())
			if err == nil {
				t.Error("expected error")
			}
			if !snap.IsZero() {
				t.Errorf("snapshot = %+v, want zero", snap)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	if v, err := parseGPUResidency("GPU active residency: 5.5%"); err != nil || v != 5.5 {
		t.Errorf("parseGPUResidency() = %v, %v", v, err)
	}
	if got := parsePSMemory(psOut, "Safari"); got != 1.0 {
		t.Errorf("parsePSMemory(Safari) = %v, want 1.0", got)
	}
	if got := parsePSMemory(psOut, "nothing-matches"); got != 0 {
		t.Errorf("parsePSMemory(no match) = %v, want 0", got)
	}
	if got := parseTokensPerSecond([]string{"a 10 tokens/sec then 12.5 tokens/sec", "noise"}); got != 12.5 {
		t.Errorf("parseTokensPerSecond() = %v, want 12.5", got)
	}
	if got := parseTokensPerSecond(nil); got != 0 {
		t.Errorf("parseTokensPerSecond(nil) = %v, want 0", got)
	}
}

// =============================================================================
// NVIDIA PROBE
// =============================================================================

func TestNvidiaProbe(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		connOutput map[string]string
		wantActive bool
	}{
		{
			name:       "linux ss established",
			goos:       "linux",
			connOutput: map[string]string{"ss": "0 0 127.0.0.1:53122 127.0.0.1:12434\n"},
			wantActive: true,
		},
		{
			name:       "linux other port only",
			goos:       "linux",
			connOutput: map[string]string{"ss": "0 0 127.0.0.1:53122 127.0.0.1:1243\n"},
			wantActive: false,
		},
		{
			name: "windows netstat",
			goos: "windows",
			connOutput: map[string]string{"netstat": "  Proto  Local Address          Foreign Address        State\n" +
				"  TCP    127.0.0.1:12434        127.0.0.1:50001        ESTABLISHED\n"},
			wantActive: true,
		},
		{
			name: "windows listening only",
			goos: "windows",
			connOutput: map[string]string{"netstat": "  TCP    0.0.0.0:12434          0.0.0.0:0              LISTENING\n"},
			wantActive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs := map[string]string{"nvidia-smi": "62, 6144, 8192, 71\n"}
			for k, v := range tt.connOutput {
				outputs[k] = v
			}
			runner := &fakeRunner{outputs: outputs}
			probe := ProbeFor(PlatformNvidia, ProbeConfig{GOOS: tt.goos, ModelPort: 12434, Runner: runner})

			snap, err := probe.Sample(context.Background())
			if err != nil {
				t.Fatalf("Sample() error = %v", err)
			}
			if snap.GPUUtilization != 62 || snap.GPUMemoryUsage != 75 || snap.Temperature != 71 {
				t.Errorf("snapshot = %+v", snap)
			}
			if snap.InferenceActive != tt.wantActive {
				t.Errorf("InferenceActive = %v, want %v", snap.InferenceActive, tt.wantActive)
			}
			if tt.wantActive {
				if !approx(snap.TokensPerSecond, 6.2) || !approx(snap.Latency, 1000/6.2) {
					t.Errorf("tps=%v latency=%v", snap.TokensPerSecond, snap.Latency)
				}
			} else if snap.TokensPerSecond != 0 || snap.Latency != 0 {
				t.Errorf("idle tps=%v latency=%v, want 0", snap.TokensPerSecond, snap.Latency)
			}
		})
	}
}

func TestNvidiaProbe_LinuxFallsBackToNetstat(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"nvidia-smi": "10, 1, 2, 40",
		"netstat":    "tcp 0 0 127.0.0.1:12434 127.0.0.1:40000 ESTABLISHED\n",
	}}
	probe := ProbeFor(PlatformNvidia, ProbeConfig{GOOS: "linux", ModelPort: 12434, Runner: runner})

	snap, _ := probe.Sample(context.Background())
	if !snap.InferenceActive {
		t.Errorf("InferenceActive = false; calls %v", runner.calls)
	}
}

func TestParseNvidiaSmi(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    Snapshot
		wantErr bool
	}{
		{"normal", "50, 4096, 8192, 65", Snapshot{GPUUtilization: 50, GPUMemoryUsage: 50, Temperature: 65}, false},
		{"multi gpu uses first", "5, 1, 4, 30\n90, 4, 4, 80", Snapshot{GPUUtilization: 5, GPUMemoryUsage: 25, Temperature: 30}, false},
		{"temp not available", "5, 0, 0, [N/A]", Snapshot{GPUUtilization: 5}, false},
		{"garbage", "NVIDIA-SMI has failed", Snapshot{}, true},
		{"bad number", "x, 1, 2, 3", Snapshot{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNvidiaSmi(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseNvidiaSmi() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// COLLECTOR
// =============================================================================

type panicProbe struct{}

func (panicProbe) Name() string { return "panic" }
func (panicProbe) Sample(context.Context) (Snapshot, error) {
	panic("parser blew up")
}

func TestCollector_NeverFails(t *testing.T) {
	tests := []struct {
		name  string
		probe Probe
	}{
		{"missing nvidia-smi", ProbeFor(PlatformNvidia, ProbeConfig{Runner: &fakeRunner{}})},
		{"missing powermetrics", ProbeFor(PlatformApple, ProbeConfig{Runner: &fakeRunner{}})},
		{"panic", panicProbe{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(PlatformNvidia, tt.probe, nil)
			snap := c.Collect(context.Background())
			if !snap.IsZero() {
				t.Errorf("Collect() = %+v, want zero snapshot", snap)
			}
			if snap.InferenceActive {
				t.Error("InferenceActive should be false")
			}
			samples, failures := c.Stats()
			if samples != 1 || failures != 1 {
				t.Errorf("Stats() = %d, %d; want 1, 1", samples, failures)
			}
		})
	}
}

func TestSnapshotNormalize(t *testing.T) {
	s := normalize(Snapshot{GPUUtilization: 140, GPUMemoryUsage: -3, TokensPerSecond: -1})
	if s.GPUUtilization != 100 || s.GPUMemoryUsage != 0 || s.TokensPerSecond != 0 || s.Latency != 0 {
		t.Errorf("normalize() = %+v", s)
	}
	if latencyFor(0) != 0 || latencyFor(20) != 50 {
		t.Error("latencyFor mismatch")
	}
}
