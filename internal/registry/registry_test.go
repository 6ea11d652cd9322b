// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)

	rec, ok := r.Get("post-1")
	require.True(t, ok)
	assert.Equal(t, "session-1", rec.SessionID)
	assert.Equal(t, "thread-1", rec.ThreadID)
	assert.Equal(t, RoleContent, rec.Role)
}

func TestRegistry_FindSessionAndThreadID(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-7", "session-9", RoleApproval, "tool-1", nil)

	sid, ok := r.FindSession("post-1")
	require.True(t, ok)
	assert.Equal(t, "session-9", sid)

	tid, ok := r.GetThreadID("post-1")
	require.True(t, ok)
	assert.Equal(t, "thread-7", tid)
}

func TestRegistry_ListForSessionAndByRole(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)
	r.Register("post-2", "thread-1", "session-1", RolePermission, "", nil)
	r.Register("post-3", "thread-1", "session-2", RoleContent, "", nil)

	all := r.ListForSession("session-1")
	assert.Len(t, all, 2)

	perms := r.ListByRole("session-1", RolePermission)
	require.Len(t, perms, 1)
	assert.Equal(t, "post-2", perms[0].PostID)
}

func TestRegistry_UnregisterRemovesFromBothIndexes(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)

	removed := r.Unregister("post-1")
	assert.True(t, removed)
	assert.False(t, r.Has("post-1"))
	assert.Empty(t, r.ListForSession("session-1"))

	removed = r.Unregister("post-1")
	assert.False(t, removed)
}

func TestRegistry_ClearSessionEmptiesSecondaryKey(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)
	r.Register("post-2", "thread-1", "session-1", RoleContent, "", nil)

	n := r.ClearSession("session-1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, r.Size())
	assert.Empty(t, r.ListForSession("session-1"))
}

func TestRegistry_ReRegisterMovesBetweenSessions(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)
	r.Register("post-1", "thread-1", "session-2", RoleContent, "", nil)

	assert.Empty(t, r.ListForSession("session-1"))
	assert.Len(t, r.ListForSession("session-2"), 1)
	assert.Equal(t, 1, r.Size())
}

func TestRegistry_Clear(t *testing.T) {
	r := New()
	r.Register("post-1", "thread-1", "session-1", RoleContent, "", nil)
	r.Clear()
	assert.Equal(t, 0, r.Size())
	assert.False(t, r.Has("post-1"))
}
