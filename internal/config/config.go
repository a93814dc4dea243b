// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/runnerchat/internal/util"
)

// EnvConfigPath names an explicit config file, bypassing the default location.
const EnvConfigPath = "RUNNERCHAT_CONFIG"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete runnerchat configuration.
type Config struct {
	Chat      ChatConfig      `toml:"chat"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Hardware  HardwareConfig  `toml:"hardware"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// ChatConfig describes the chat completion endpoints.
type ChatConfig struct {
	BaseURL string `toml:"base_url"`

	// ChatPath streams plain text chunks.
	ChatPath string `toml:"chat_path"`

	// RAGPath streams data: frames with token and sources events.
	RAGPath string `toml:"rag_path"`

	// RAG selects the document-grounded endpoint by default.
	RAG bool `toml:"rag"`

	// HistoryLimit caps how many prior messages are sent with each request.
	HistoryLimit int `toml:"history_limit"`

	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// TelemetryConfig describes the metrics and error sinks.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	MetricsPath string `toml:"metrics_path"`
	ErrorPath   string `toml:"error_path"`
	QueueSize   int    `toml:"queue_size"`
	TimeoutMs   int    `toml:"timeout_ms"`
}

// HardwareConfig controls the hardware probes and their cache.
type HardwareConfig struct {
	// ModelPort is the model server port checked for ESTABLISHED connections.
	ModelPort int `toml:"model_port"`

	FreshnessMs      int `toml:"freshness_ms"`
	PollIntervalMs   int `toml:"poll_interval_ms"`
	CommandTimeoutMs int `toml:"command_timeout_ms"`

	LlamaLogPath     string `toml:"llama_log_path"`
	ProcessPattern   string `toml:"process_pattern"`
	PowermetricsSudo bool   `toml:"powermetrics_sudo"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	DatabasePath       string   `toml:"database_path"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			BaseURL:            "http://localhost:3001",
			ChatPath:           "/api/chat",
			RAGPath:            "/api/rag/stream",
			HistoryLimit:       10,
			RequestTimeoutSecs: 300,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			MetricsPath: "/api/metrics/log",
			ErrorPath:   "/api/metrics/error",
			QueueSize:   64,
			TimeoutMs:   5000,
		},
		Hardware: HardwareConfig{
			ModelPort:        12434,
			FreshnessMs:      500,
			PollIntervalMs:   2000,
			CommandTimeoutMs: 3000,
			LlamaLogPath:     "~/.docker/model-runner/logs/llama.log",
			ProcessPattern:   "llama",
			PowermetricsSudo: true,
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               3001,
			DatabasePath:       "~/.runnerchat/metrics.db",
			CORSOrigins:        []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RateLimitPerMinute: 120,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ChatURL returns the plain chat endpoint URL.
func (c ChatConfig) ChatURL() string { return joinURL(c.BaseURL, c.ChatPath) }

// RAGURL returns the structured RAG endpoint URL.
func (c ChatConfig) RAGURL() string { return joinURL(c.BaseURL, c.RAGPath) }

// RequestTimeout is the whole-exchange timeout, zero meaning none.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// MetricsURL returns the metrics sink URL for a chat base URL.
func (t TelemetryConfig) MetricsURL(base string) string { return joinURL(base, t.MetricsPath) }

// ErrorURL returns the error sink URL for a chat base URL.
func (t TelemetryConfig) ErrorURL(base string) string { return joinURL(base, t.ErrorPath) }

// Timeout bounds a single sink delivery.
func (t TelemetryConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// FreshnessWindow is the maximum age at which a cached snapshot is reused.
func (h HardwareConfig) FreshnessWindow() time.Duration {
	return time.Duration(h.FreshnessMs) * time.Millisecond
}

// PollInterval is the dashboard refresh cadence.
func (h HardwareConfig) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalMs) * time.Millisecond
}

// CommandTimeout bounds each external probe command.
func (h HardwareConfig) CommandTimeout() time.Duration {
	return time.Duration(h.CommandTimeoutMs) * time.Millisecond
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the runnerchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".runnerchat"), nil
}

// ConfigPath returns the config file path, honoring RUNNERCHAT_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return util.ExpandHome(p), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config file if it exists and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return finish(Default())
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// Parse decodes TOML text on top of the defaults.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	return finish(cfg)
}

func decodeFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills zero values left by a sparse file.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = d.Chat.BaseURL
	}
	if cfg.Chat.ChatPath == "" {
		cfg.Chat.ChatPath = d.Chat.ChatPath
	}
	if cfg.Chat.RAGPath == "" {
		cfg.Chat.RAGPath = d.Chat.RAGPath
	}

	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = d.Telemetry.MetricsPath
	}
	if cfg.Telemetry.ErrorPath == "" {
		cfg.Telemetry.ErrorPath = d.Telemetry.ErrorPath
	}
	if cfg.Telemetry.QueueSize == 0 {
		cfg.Telemetry.QueueSize = d.Telemetry.QueueSize
	}
	if cfg.Telemetry.TimeoutMs == 0 {
		cfg.Telemetry.TimeoutMs = d.Telemetry.TimeoutMs
	}

	if cfg.Hardware.ModelPort == 0 {
		cfg.Hardware.ModelPort = d.Hardware.ModelPort
	}
	if cfg.Hardware.FreshnessMs == 0 {
		cfg.Hardware.FreshnessMs = d.Hardware.FreshnessMs
	}
	if cfg.Hardware.PollIntervalMs == 0 {
		cfg.Hardware.PollIntervalMs = d.Hardware.PollIntervalMs
	}
	if cfg.Hardware.CommandTimeoutMs == 0 {
		cfg.Hardware.CommandTimeoutMs = d.Hardware.CommandTimeoutMs
	}
	if cfg.Hardware.LlamaLogPath == "" {
		cfg.Hardware.LlamaLogPath = d.Hardware.LlamaLogPath
	}
	if cfg.Hardware.ProcessPattern == "" {
		cfg.Hardware.ProcessPattern = d.Hardware.ProcessPattern
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = d.Server.DatabasePath
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as TOML with 0600 permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# runnerchat configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks ranges and URL shapes.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Chat.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "chat.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Chat.BaseURL),
		})
	}
	if c.Chat.HistoryLimit < 0 {
		errs = append(errs, ValidationError{Field: "chat.history_limit", Message: "must be >= 0"})
	}
	if c.Chat.RequestTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "chat.request_timeout_secs", Message: "must be >= 0"})
	}

	if c.Telemetry.QueueSize < 1 {
		errs = append(errs, ValidationError{Field: "telemetry.queue_size", Message: "must be >= 1"})
	}
	if c.Telemetry.TimeoutMs < 1 {
		errs = append(errs, ValidationError{Field: "telemetry.timeout_ms", Message: "must be >= 1"})
	}

	if c.Hardware.ModelPort < 1 || c.Hardware.ModelPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "hardware.model_port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Hardware.ModelPort),
		})
	}
	if c.Hardware.FreshnessMs < 1 {
		errs = append(errs, ValidationError{Field: "hardware.freshness_ms", Message: "must be >= 1"})
	}
	if c.Hardware.PollIntervalMs < 100 {
		errs = append(errs, ValidationError{Field: "hardware.poll_interval_ms", Message: "must be >= 100"})
	}
	if c.Hardware.CommandTimeoutMs < 1 {
		errs = append(errs, ValidationError{Field: "hardware.command_timeout_ms", Message: "must be >= 1"})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_per_minute", Message: "must be >= 0"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be console or json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RUNNERCHAT_* environment variables.
//
//   - RUNNERCHAT_BASE_URL: chat.base_url
//   - RUNNERCHAT_RAG: chat.rag
//   - RUNNERCHAT_TELEMETRY: telemetry.enabled
//   - RUNNERCHAT_MODEL_PORT: hardware.model_port
//   - RUNNERCHAT_FRESHNESS_MS: hardware.freshness_ms
//   - RUNNERCHAT_LLAMA_LOG: hardware.llama_log_path
//   - RUNNERCHAT_PORT: server.port
//   - RUNNERCHAT_DB: server.database_path
//   - RUNNERCHAT_LOG_LEVEL: log.level
//   - RUNNERCHAT_LOG_FORMAT: log.format
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RUNNERCHAT_BASE_URL"); v != "" {
		c.Chat.BaseURL = v
	}
	if v := os.Getenv("RUNNERCHAT_RAG"); v != "" {
		c.Chat.RAG = parseBool(v)
	}
	if v := os.Getenv("RUNNERCHAT_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("RUNNERCHAT_MODEL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hardware.ModelPort = n
		}
	}
	if v := os.Getenv("RUNNERCHAT_FRESHNESS_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hardware.FreshnessMs = n
		}
	}
	if v := os.Getenv("RUNNERCHAT_LLAMA_LOG"); v != "" {
		c.Hardware.LlamaLogPath = v
	}
	if v := os.Getenv("RUNNERCHAT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("RUNNERCHAT_DB"); v != "" {
		c.Server.DatabasePath = v
	}
	if v := os.Getenv("RUNNERCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RUNNERCHAT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
