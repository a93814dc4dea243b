// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for runnerchat.
//
// # Key Types
//
//   - Config: main configuration structure
//   - ChatConfig: chat and RAG endpoint settings used by the session
//   - TelemetryConfig: metrics and error sink settings
//   - HardwareConfig: probe, cache and poll settings for the collector
//   - ServerConfig: listen address, database and CORS for the serve command
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RUNNERCHAT_*)
//   - ~/.runnerchat/config.toml, or the file named by RUNNERCHAT_CONFIG
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	window := cfg.Hardware.FreshnessWindow()
package config
