// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the PostRegistry: a typed index from
// platform post ID to the session that owns it, with a secondary index
// for reverse lookups by session. The shape mirrors the child-process
// manager's primary-map/secondary-index pairing (sessions/worktreeIndex),
// kept in sync under one mutex.
package registry

import (
	"sync"
	"time"
)

// Role is the kind of content a registered post carries.
type Role string

const (
	RoleContent         Role = "content"
	RoleSessionHeader   Role = "session-header"
	RoleTaskList        Role = "task-list"
	RoleSubagentStatus  Role = "subagent-status"
	RoleQuestion        Role = "question"
	RoleApproval        Role = "approval"
	RolePermission      Role = "permission"
	RoleWorktreePrompt  Role = "worktree-prompt"
	RoleContextPrompt   Role = "context-prompt"
	RoleUpdatePrompt    Role = "update-prompt"
	RoleBugReport       Role = "bug-report"
	RoleLifecycle       Role = "lifecycle"
	RoleSystem          Role = "system"
)

// Record is one entry in the registry: postId, threadId, sessionId, role,
// optional toolUseId, optional interactionKind, createdAt, and free-form
// metadata.
type Record struct {
	PostID          string
	ThreadID        string
	SessionID       string
	Role            Role
	ToolUseID       string
	InteractionKind string
	CreatedAt       time.Time
	Metadata        map[string]string
}

// Registry is the PostRegistry: a typed index from platform post-id to
// {session, role, toolUseId, created-at}, with reverse lookups by session
// and by role.
type Registry struct {
	mu        sync.RWMutex
	byPost    map[string]Record
	bySession map[string]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byPost:    make(map[string]Record),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Register records postId as belonging to sessionId. Registering an
// already-tracked post id overwrites its record; the secondary index is
// updated idempotently.
func (r *Registry) Register(postID, threadID, sessionID string, role Role, toolUseID string, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byPost[postID]; ok && existing.SessionID != sessionID {
		r.removeFromSecondary(existing.SessionID, postID)
	}
	r.byPost[postID] = Record{
		PostID:    postID,
		ThreadID:  threadID,
		SessionID: sessionID,
		Role:      role,
		ToolUseID: toolUseID,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.bySession[sessionID] = set
	}
	set[postID] = struct{}{}
}

// Unregister removes postId from both indexes, reporting whether it was
// present. If the session's secondary set becomes empty, the session key
// is removed too.
func (r *Registry) Unregister(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byPost[postID]
	if !ok {
		return false
	}
	delete(r.byPost, postID)
	r.removeFromSecondary(rec.SessionID, postID)
	return true
}

func (r *Registry) removeFromSecondary(sessionID, postID string) {
	set, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	delete(set, postID)
	if len(set) == 0 {
		delete(r.bySession, sessionID)
	}
}

// Get returns the record for postId.
func (r *Registry) Get(postID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byPost[postID]
	return rec, ok
}

// GetThreadID returns the threadId recorded for postId.
func (r *Registry) GetThreadID(postID string) (string, bool) {
	rec, ok := r.Get(postID)
	return rec.ThreadID, ok
}

// FindSession returns the sessionId that owns postId.
func (r *Registry) FindSession(postID string) (string, bool) {
	rec, ok := r.Get(postID)
	return rec.SessionID, ok
}

// ListForSession returns every record currently tracked for sessionId.
func (r *Registry) ListForSession(sessionID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySession[sessionID]
	out := make([]Record, 0, len(set))
	for id := range set {
		out = append(out, r.byPost[id])
	}
	return out
}

// ListByRole returns the records tracked for sessionId whose role matches.
func (r *Registry) ListByRole(sessionID string, role Role) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySession[sessionID]
	var out []Record
	for id := range set {
		if rec := r.byPost[id]; rec.Role == role {
			out = append(out, rec)
		}
	}
	return out
}

// ClearSession removes every post tracked for sessionId, returning the
// number removed.
func (r *Registry) ClearSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.bySession[sessionID]
	n := len(set)
	for id := range set {
		delete(r.byPost, id)
	}
	delete(r.bySession, sessionID)
	return n
}

// Clear removes every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPost = make(map[string]Record)
	r.bySession = make(map[string]map[string]struct{})
}

// Size returns the number of tracked posts.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPost)
}

// Has reports whether postId is tracked.
func (r *Registry) Has(postID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPost[postID]
	return ok
}
