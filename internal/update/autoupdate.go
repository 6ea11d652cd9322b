// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package update implements the auto-update manager: it watches the
// installed assistant CLI binary for a newer build and drives the
// update prompt when one appears.
package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/threadbridge/threadbridge/internal/events"
	"github.com/threadbridge/threadbridge/internal/watcher"
)

// BinaryState captures the observed identity of the watched binary.
type BinaryState struct {
	ModTime time.Time
	Size    int64
	Hash    string
}

// AutoUpdateManager watches a single installed CLI binary path and emits
// events.EventUpdateAvailable once its content changes, debounced so a
// multi-step install (truncate, write, chmod) only fires once.
type AutoUpdateManager struct {
	mu        sync.RWMutex
	bus       events.EventBus
	fsWatcher *fsnotify.Watcher
	debouncer *watcher.Debouncer
	path      string
	last      BinaryState
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewAutoUpdateManager starts watching binaryPath for changes, debounced by
// the given duration (the app derives it from Update.CheckInterval, capped
// at 5s).
func NewAutoUpdateManager(bus events.EventBus, binaryPath string, debounce time.Duration) (*AutoUpdateManager, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	m := &AutoUpdateManager{
		bus:       bus,
		fsWatcher: fsWatcher,
		debouncer: watcher.NewDebouncer(debounce),
		path:      binaryPath,
		closeCh:   make(chan struct{}),
	}

	if state, err := hashState(binaryPath); err == nil {
		m.last = state
	}

	dir := parentDir(binaryPath)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.wg.Add(1)
	go m.processEvents()

	return m, nil
}

// Current returns the last observed binary state.
func (m *AutoUpdateManager) Current() BinaryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Close stops the watcher.
func (m *AutoUpdateManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	m.mu.Unlock()

	m.debouncer.Stop()
	m.fsWatcher.Close()
	m.wg.Wait()
	return nil
}

func (m *AutoUpdateManager) processEvents() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closeCh:
			return
		case ev, ok := <-m.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Name != m.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m.debouncer.Debounce(m.path, m.checkForUpdate)
		case _, ok := <-m.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (m *AutoUpdateManager) checkForUpdate() {
	state, err := hashState(m.path)
	if err != nil {
		return
	}

	m.mu.Lock()
	prev := m.last
	changed := prev.Hash != "" && prev.Hash != state.Hash
	m.last = state
	m.mu.Unlock()

	if !changed {
		return
	}

	if m.bus != nil {
		_ = m.bus.Publish(context.Background(), events.Event{
			Type: events.EventUpdateAvailable,
			Payload: map[string]interface{}{
				"path":        m.path,
				"previousSha": prev.Hash,
				"newSha":      state.Hash,
				"modTime":     state.ModTime.Format(time.RFC3339),
			},
		})
	}
}

func hashState(path string) (BinaryState, error) {
	f, err := os.Open(path)
	if err != nil {
		return BinaryState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return BinaryState{}, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return BinaryState{}, err
	}

	return BinaryState{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Hash:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
