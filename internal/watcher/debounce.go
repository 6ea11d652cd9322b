// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher provides the debounce helper the auto-updater uses to
// coalesce filesystem event bursts (a binary install is typically a
// truncate, several writes, and a chmod in quick succession).
package watcher

import (
	"sync"
	"time"
)

const defaultDebounce = 100 * time.Millisecond

// Debouncer coalesces repeated triggers per key: a trigger arms a timer,
// and re-triggering the same key before it fires rearms it, so fn runs
// once per quiet period.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	pending  map[string]*time.Timer
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(duration time.Duration) *Debouncer {
	if duration <= 0 {
		duration = defaultDebounce
	}
	return &Debouncer{
		duration: duration,
		pending:  make(map[string]*time.Timer),
	}
}

// Debounce arms (or rearms) the timer for key; fn runs after the quiet
// period elapses with no further Debounce calls for the same key.
func (d *Debouncer) Debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
	}
	d.pending[key] = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops any pending trigger for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
		delete(d.pending, key)
	}
}

// Stop drops every pending trigger.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
	}
}
