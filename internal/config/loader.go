// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map, then round-trip through
	// encoding/json into the typed struct for type safety.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory, looking
// for bridge.hjson first, then bridge.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{"bridge.hjson", "bridge.json"}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for bridge.hjson, bridge.json)")
}

// CommandOverlay is one row of the optional commands.yaml overlay: extra
// command descriptions merged into the CommandRegistry at startup.
type CommandOverlay struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ArgsSpec    string `yaml:"args_spec"`
}

// LoadCommandsOverlay reads an optional YAML file of organization-specific
// command descriptions. A missing path is not an error: the overlay is
// optional.
func LoadCommandsOverlay(path string) ([]CommandOverlay, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read commands overlay: %w", err)
	}
	var overlay []CommandOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse commands overlay: %w", err)
	}
	return overlay, nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownGraceMs == 0 {
		cfg.Server.ShutdownGraceMs = 10000
	}

	if cfg.Session.PermissionsMode == "" {
		cfg.Session.PermissionsMode = PermissionsAuto
	}
	if cfg.Session.WorktreeMode == "" {
		cfg.Session.WorktreeMode = WorktreeOff
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 5
	}
	if cfg.Session.SessionTimeoutMs == 0 {
		cfg.Session.SessionTimeoutMs = 1_800_000
	}
	if cfg.Session.UpdateDebounceMs == 0 {
		cfg.Session.UpdateDebounceMs = 500
	}
	if cfg.Session.TypingIntervalMs == 0 {
		cfg.Session.TypingIntervalMs = 3000
	}
	if cfg.Session.PermissionTimeoutMs == 0 {
		cfg.Session.PermissionTimeoutMs = 120_000
	}
	if cfg.Session.ReconnectBackoffBaseMs == 0 {
		cfg.Session.ReconnectBackoffBaseMs = 1000
	}
	if cfg.Session.ReconnectMaxAttempts == 0 {
		cfg.Session.ReconnectMaxAttempts = 10
	}
	if cfg.Session.HeartbeatIntervalMs == 0 {
		cfg.Session.HeartbeatIntervalMs = 30_000
	}
	if cfg.Session.HeartbeatTimeoutMs == 0 {
		cfg.Session.HeartbeatTimeoutMs = 60_000
	}
	if cfg.Session.IdleSweepIntervalMs == 0 {
		cfg.Session.IdleSweepIntervalMs = 60_000
	}

	if cfg.Breaker.SoftBreakChars == 0 {
		cfg.Breaker.SoftBreakChars = 2000
	}
	if cfg.Breaker.MinBreakChars == 0 {
		cfg.Breaker.MinBreakChars = 500
	}
	if cfg.Breaker.MaxLinesBeforeBreak == 0 {
		cfg.Breaker.MaxLinesBeforeBreak = 15
	}
	if cfg.Breaker.MaxHeightPx == 0 {
		cfg.Breaker.MaxHeightPx = 500
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.AdminAPI.Host == "" {
		cfg.AdminAPI.Host = "127.0.0.1"
	}
	if cfg.AdminAPI.Port == 0 {
		cfg.AdminAPI.Port = 8765
	}

	if cfg.Update.CheckInterval == "" {
		cfg.Update.CheckInterval = "1h"
	}
}
