// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// connectionActive reports whether any TCP connection to or from the model
// port is ESTABLISHED. A failing or missing tool reads as inactive.
func connectionActive(ctx context.Context, cfg ProbeConfig, goos string) bool {
	port := strconv.Itoa(cfg.ModelPort)

	switch goos {
	case "darwin":
		// lsof exits 1 with no output when nothing matches.
		out, err := cfg.Runner.Run(ctx, "lsof", "-nP", "-i", ":"+port, "-sTCP:ESTABLISHED")
		if err != nil && len(out) == 0 {
			cfg.Logger.Debug("lsof found no connection", zap.Error(err))
			return false
		}
		return strings.Contains(string(out), "ESTABLISHED")

	case "windows":
		out, err := cfg.Runner.Run(ctx, "netstat", "-an")
		if err != nil {
			cfg.Logger.Debug("netstat failed", zap.Error(err))
			return false
		}
		return netstatHasEstablished(string(out), port)

	default:
		out, err := cfg.Runner.Run(ctx, "ss", "-Htn", "state", "established")
		if err == nil {
			return ssHasPort(string(out), port)
		}
		cfg.Logger.Debug("ss failed, trying netstat", zap.Error(err))
		out, err = cfg.Runner.Run(ctx, "netstat", "-tn")
		if err != nil {
			cfg.Logger.Debug("netstat failed", zap.Error(err))
			return false
		}
		return netstatHasEstablished(string(out), port)
	}
}

// netstatHasEstablished scans netstat lines for an ESTABLISHED row on port.
func netstatHasEstablished(out, port string) bool {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "ESTABLISHED") {
			continue
		}
		if fieldsHavePort(strings.Fields(line), port) {
			return true
		}
	}
	return false
}

// ssHasPort scans "ss state established" rows, which omit the state column.
func ssHasPort(out, port string) bool {
	for _, line := range strings.Split(out, "\n") {
		if fieldsHavePort(strings.Fields(line), port) {
			return true
		}
	}
	return false
}

// fieldsHavePort matches address fields ending in ":port" (or ".port" as
// BSD netstat prints them), so 1243 does not match 12434.
func fieldsHavePort(fields []string, port string) bool {
	for _, f := range fields {
		if strings.HasSuffix(f, ":"+port) || strings.HasSuffix(f, "."+port) {
			return true
		}
	}
	return false
}
