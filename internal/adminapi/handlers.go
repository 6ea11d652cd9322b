// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adminapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/threadbridge/threadbridge/internal/events"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/sessionmanager"
	"github.com/threadbridge/threadbridge/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionSummary is the session-list view of one persisted record.
type SessionSummary struct {
	PlatformID     string    `json:"platform_id"`
	ThreadID       string    `json:"thread_id"`
	SessionID      string    `json:"session_id"`
	WorkingDir     string    `json:"working_dir"`
	WorktreeBranch string    `json:"worktree_branch,omitempty"`
	StartedBy      string    `json:"started_by"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
	SessionTitle   string    `json:"session_title,omitempty"`
	LifecycleState string    `json:"lifecycle_state"`
}

func summarize(rec store.PersistedSession) SessionSummary {
	s := SessionSummary{
		PlatformID:     rec.PlatformID,
		ThreadID:       rec.ThreadID,
		SessionID:      rec.SessionID,
		WorkingDir:     rec.WorkingDir,
		StartedBy:      rec.StartedBy,
		StartedAt:      rec.StartedAt,
		LastActivityAt: rec.LastActivityAt,
		MessageCount:   rec.MessageCount,
		SessionTitle:   rec.SessionTitle,
		LifecycleState: rec.LifecycleState,
	}
	if rec.WorktreeInfo != nil {
		s.WorktreeBranch = rec.WorktreeInfo.Branch
	}
	return s
}

// HealthStatus is the /healthz body.
type HealthStatus struct {
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	ActiveSessions int             `json:"active_sessions"`
	Platforms      map[string]bool `json:"platforms"`
}

// SessionHandler serves session listing and the pause/resume escape
// hatches bridgectl uses.
type SessionHandler struct {
	manager *sessionmanager.Manager
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *sessionmanager.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// List returns every persisted session record.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Snapshot()
	out := make([]SessionSummary, 0, len(snap.Sessions))
	for _, rec := range snap.Sessions {
		out = append(out, summarize(rec))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Resume force-resumes a paused session.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.ForceResume(r.Context(), vars["platform"], vars["thread"]); err != nil {
		WriteError(w, http.StatusConflict, ErrSessionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// Pause force-pauses an active session.
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.ForcePause(vars["platform"], vars["thread"]); err != nil {
		WriteError(w, http.StatusConflict, ErrSessionError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// EventHandler serves the event-bus history and live feed.
type EventHandler struct {
	bus events.EventBus
}

// NewEventHandler creates an event handler.
func NewEventHandler(bus events.EventBus) *EventHandler {
	return &EventHandler{bus: bus}
}

// History returns the event history.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := events.EventFilter{}
	if types := query["type"]; len(types) > 0 {
		filter.Types = types
	}
	if scope := query.Get("scope"); scope != "" {
		filter.Scope = scope
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if sinceStr := query.Get("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = t
		}
	}
	if untilStr := query.Get("until"); untilStr != "" {
		if t, err := time.Parse(time.RFC3339, untilStr); err == nil {
			filter.Until = t
		}
	}

	eventList, err := h.bus.History(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, eventList)
}

// WebSocket streams live events matching an optional pattern.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	eventCh := make(chan events.Event, 100)
	done := make(chan struct{})

	subID, err := h.bus.SubscribeAsync(pattern, func(_ context.Context, event events.Event) error {
		select {
		case eventCh <- event:
		case <-done:
		default:
			// Drop if buffer full
		}
		return nil
	}, 100)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer h.bus.Unsubscribe(subID)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	// Read goroutine (for close detection)
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-eventCh:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// LogHandler serves the ring sink's retained lines.
type LogHandler struct {
	ring *logsink.Ring
}

// NewLogHandler creates a log handler.
func NewLogHandler(ring *logsink.Ring) *LogHandler {
	return &LogHandler{ring: ring}
}

// Recent returns the retained log lines, oldest first.
func (h *LogHandler) Recent(w http.ResponseWriter, r *http.Request) {
	entries := h.ring.Recent()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	WriteJSON(w, http.StatusOK, entries)
}
