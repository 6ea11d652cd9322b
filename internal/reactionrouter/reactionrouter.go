// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reactionrouter maps an emoji reaction on a registered post to
// an interaction handler on the owning session.
package reactionrouter

import (
	"github.com/threadbridge/threadbridge/internal/registry"
)

// SessionLookup resolves a sessionID to a handler capable of reacting to
// it. The session manager supplies this so the router stays decoupled
// from the concrete Session type.
type SessionLookup func(sessionID string) (Handler, bool)

// Handler is the subset of Session behavior the router needs to dispatch
// a reaction event.
type Handler interface {
	HandleReaction(postRole registry.Role, postID, userID, emojiName string) error
}

// Router dispatches reaction events using the PostRegistry to find the
// owning session.
type Router struct {
	reg    *registry.Registry
	lookup SessionLookup
}

// New creates a Router.
func New(reg *registry.Registry, lookup SessionLookup) *Router {
	return &Router{reg: reg, lookup: lookup}
}

// Route looks up postID in the registry and, if a session owns it,
// dispatches the reaction to that session's handler. Returns false if
// the post isn't tracked or its session has since ended.
func (r *Router) Route(postID, userID, emojiName string) (bool, error) {
	rec, ok := r.reg.Get(postID)
	if !ok {
		return false, nil
	}
	h, ok := r.lookup(rec.SessionID)
	if !ok {
		return false, nil
	}
	if err := h.HandleReaction(rec.Role, postID, userID, emojiName); err != nil {
		return true, err
	}
	return true, nil
}
