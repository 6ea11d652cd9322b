// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logsink provides the log sink interface threaded through every
// component instead of a process-wide logging singleton.
package logsink

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Sink receives tagged log lines from components. Implementations must be
// safe for concurrent use.
type Sink interface {
	Debugf(component, format string, args ...interface{})
	Infof(component, format string, args ...interface{})
	Warnf(component, format string, args ...interface{})
	Errorf(component, format string, args ...interface{})
}

// Standard wraps the standard library logger, matching how the rest of the
// corpus's stdlib-logging repos format lines: "component: message".
type Standard struct {
	logger *log.Logger
	debug  bool
}

// NewStandard creates a sink writing to stderr. Debug lines are suppressed
// unless debug is true.
func NewStandard(debug bool) *Standard {
	return &Standard{logger: log.New(os.Stderr, "", log.LstdFlags), debug: debug}
}

func (s *Standard) Debugf(component, format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("%s: %s", component, fmt.Sprintf(format, args...))
}

func (s *Standard) Infof(component, format string, args ...interface{}) {
	s.logger.Printf("%s: %s", component, fmt.Sprintf(format, args...))
}

func (s *Standard) Warnf(component, format string, args ...interface{}) {
	s.logger.Printf("%s: WARN: %s", component, fmt.Sprintf(format, args...))
}

func (s *Standard) Errorf(component, format string, args ...interface{}) {
	s.logger.Printf("%s: ERROR: %s", component, fmt.Sprintf(format, args...))
}

// Entry is one recorded line in a Ring sink.
type Entry struct {
	Component string
	Level     string
	Message   string
}

// Ring is an in-memory sink that retains the last N lines, for the admin
// dashboard's recent-log feed (the headless-vs-TUI sink split from the
// design notes).
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	next    *Standard // also forwards to stderr
}

// NewRing creates a ring-buffer sink of the given capacity that also
// forwards every line to a Standard stderr sink, which drops debug lines
// unless debug is true.
func NewRing(capacity int, debug bool) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{cap: capacity, next: NewStandard(debug)}
}

func (r *Ring) add(level, component, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Component: component, Level: level, Message: fmt.Sprintf(format, args...)})
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *Ring) Debugf(component, format string, args ...interface{}) {
	r.add("debug", component, format, args...)
	r.next.Debugf(component, format, args...)
}

func (r *Ring) Infof(component, format string, args ...interface{}) {
	r.add("info", component, format, args...)
	r.next.Infof(component, format, args...)
}

func (r *Ring) Warnf(component, format string, args ...interface{}) {
	r.add("warn", component, format, args...)
	r.next.Warnf(component, format, args...)
}

func (r *Ring) Errorf(component, format string, args ...interface{}) {
	r.add("error", component, format, args...)
	r.next.Errorf(component, format, args...)
}

// Recent returns a copy of the retained lines, oldest first.
func (r *Ring) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
