// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process event bus shared by the session
// manager, worktree helper, and auto-updater: components publish lifecycle
// notices and the admin surface subscribes for its recent-activity feed.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Scope     string                 `json:"scope"` // platform id, thread key, or worktree name
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types []string  // Event types to match (supports wildcards)
	Scope string    // Filter by scope
	Since time.Time // Events after this time
	Until time.Time // Events before this time
	Limit int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SetDefaultScope sets the default scope for events that don't specify one.
	SetDefaultScope(scope string)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Common event types
const (
	// Session lifecycle events
	EventSessionStarted = "session.started"
	EventSessionResumed = "session.resumed"
	EventSessionPaused  = "session.paused"
	EventSessionEnded   = "session.ended"

	// Platform adapter events
	EventPlatformConnected    = "platform.connected"
	EventPlatformDisconnected = "platform.disconnected"
	EventPlatformReconnecting = "platform.reconnecting"

	// Interaction events
	EventInteractionStarted  = "interaction.started"
	EventInteractionResolved = "interaction.resolved"

	// Worktree events
	EventWorktreeActivated = "worktree.activated"
	EventWorktreeCreated   = "worktree.created"
	EventWorktreeDeleted   = "worktree.deleted"

	// Binary/update events
	EventBinaryChanged   = "binary.changed"
	EventUpdateAvailable = "update.available"
)
