// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateSession(cfg, errs)
	v.validateBreaker(cfg, errs)
	v.validatePlatforms(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
	if cfg.Project.Name == "" {
		errs.Add("project.name", "is required")
	}
}

func (v *Validator) validateSession(cfg *Config, errs *ValidationError) {
	switch cfg.Session.PermissionsMode {
	case "", PermissionsAuto, PermissionsInteractive:
	default:
		errs.Add("session.permissions_mode", fmt.Sprintf("invalid mode '%s', must be one of: auto, interactive", cfg.Session.PermissionsMode))
	}
	switch cfg.Session.WorktreeMode {
	case "", WorktreeOff, WorktreePrompt, WorktreeRequire:
	default:
		errs.Add("session.worktree_mode", fmt.Sprintf("invalid mode '%s', must be one of: off, prompt, require", cfg.Session.WorktreeMode))
	}
	if cfg.Session.MaxSessions < 0 {
		errs.Add("session.max_sessions", "must not be negative")
	}
	if cfg.Session.SessionTimeoutMs < 0 {
		errs.Add("session.session_timeout_ms", "must not be negative")
	}
	if cfg.Session.ReconnectMaxAttempts < 0 {
		errs.Add("session.reconnect_max_attempts", "must not be negative")
	}
}

func (v *Validator) validateBreaker(cfg *Config, errs *ValidationError) {
	if cfg.Breaker.SoftBreakChars != 0 && cfg.Breaker.MinBreakChars != 0 && cfg.Breaker.MinBreakChars > cfg.Breaker.SoftBreakChars {
		errs.Add("breaker.min_break_chars", "must not exceed breaker.soft_break_chars")
	}
	if cfg.Breaker.MaxHeightPx < 0 {
		errs.Add("breaker.max_height_px", "must not be negative")
	}
}

func (v *Validator) validatePlatforms(cfg *Config, errs *ValidationError) {
	seenIDs := make(map[string]bool)
	for i, p := range cfg.Platforms {
		prefix := fmt.Sprintf("platforms[%d]", i)
		if p.ID == "" {
			errs.Add(prefix+".id", "is required")
		} else if seenIDs[p.ID] {
			errs.Add(prefix+".id", fmt.Sprintf("duplicate platform id '%s'", p.ID))
		} else {
			seenIDs[p.ID] = true
		}
		switch p.Kind {
		case PlatformSlack, PlatformMattermost:
		default:
			errs.Add(prefix+".kind", fmt.Sprintf("invalid kind '%s', must be one of: slack, mattermost", p.Kind))
		}
		if p.IsEnabled() && p.Token == "" {
			errs.Add(prefix+".token", "is required for an enabled platform")
		}
		if p.Kind == PlatformMattermost && p.IsEnabled() && p.URL == "" {
			errs.Add(prefix+".url", "is required for an enabled mattermost platform")
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}
	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if cfg.Update.CheckInterval != "" {
		if d, err := time.ParseDuration(cfg.Update.CheckInterval); err != nil {
			errs.Add("update.check_interval", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("update.check_interval", "must be positive")
		}
	}
}
