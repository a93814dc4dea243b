// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// =============================================================================
// PLATFORM
// =============================================================================

// Platform selects the probe implementation.
type Platform int

const (
	// PlatformFallback has no supported probe and always reports zeros.
	PlatformFallback Platform = iota
	// PlatformApple samples Apple Silicon through powermetrics.
	PlatformApple
	// PlatformNvidia samples through nvidia-smi.
	PlatformNvidia
)

// String returns the platform name used in logs and /health.
func (p Platform) String() string {
	switch p {
	case PlatformApple:
		return "apple"
	case PlatformNvidia:
		return "nvidia"
	default:
		return "fallback"
	}
}

// DetectPlatform maps an OS name and nvidia-smi availability to a platform.
// darwin is always Apple and windows is always NVIDIA; other hosts are NVIDIA
// only when nvidia-smi was found.
func DetectPlatform(goos string, nvidiaAvailable bool) Platform {
	switch goos {
	case "darwin":
		return PlatformApple
	case "windows":
		return PlatformNvidia
	}
	if nvidiaAvailable {
		return PlatformNvidia
	}
	return PlatformFallback
}

// HostPlatform detects the platform of the running host. It also returns
// the nvidia-smi path, empty if none was found.
func HostPlatform() (Platform, string) {
	smi := NvidiaSmiPath(runtime.GOOS)
	return DetectPlatform(runtime.GOOS, smi != ""), smi
}

// =============================================================================
// NVIDIA-SMI LOOKUP
// =============================================================================

// nvidiaSmiPaths returns candidate locations for nvidia-smi.
func nvidiaSmiPaths(goos string) []string {
	if goos == "windows" {
		return []string{
			"nvidia-smi",
			`C:\Windows\System32\nvidia-smi.exe`,
			`C:\Program Files\NVIDIA Corporation\NVSMI\nvidia-smi.exe`,
		}
	}
	return []string{"nvidia-smi", "/usr/bin/nvidia-smi", "/usr/local/nvidia/bin/nvidia-smi"}
}

// NvidiaSmiPath returns the path to nvidia-smi if found.
func NvidiaSmiPath(goos string) string {
	for _, path := range nvidiaSmiPaths(goos) {
		if !filepath.IsAbs(path) {
			if found, err := exec.LookPath(path); err == nil {
				return found
			}
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
