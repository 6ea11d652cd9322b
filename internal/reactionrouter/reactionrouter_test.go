// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reactionrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadbridge/threadbridge/internal/registry"
)

type recordingHandler struct {
	calls []string
	err   error
}

func (h *recordingHandler) HandleReaction(role registry.Role, postID, userID, emojiName string) error {
	h.calls = append(h.calls, postID+":"+userID+":"+emojiName)
	return h.err
}

func TestRoute_DispatchesToOwningSession(t *testing.T) {
	reg := registry.New()
	reg.Register("post-1", "thread-1", "session-1", registry.RoleApproval, "", nil)

	h := &recordingHandler{}
	router := New(reg, func(sessionID string) (Handler, bool) {
		if sessionID == "session-1" {
			return h, true
		}
		return nil, false
	})

	handled, err := router.Route("post-1", "u1", "+1")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"post-1:u1:+1"}, h.calls)
}

func TestRoute_UnknownPostNotHandled(t *testing.T) {
	reg := registry.New()
	router := New(reg, func(sessionID string) (Handler, bool) { return nil, false })

	handled, err := router.Route("ghost", "u1", "+1")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRoute_SessionGoneNotHandled(t *testing.T) {
	reg := registry.New()
	reg.Register("post-1", "thread-1", "session-1", registry.RoleApproval, "", nil)
	router := New(reg, func(sessionID string) (Handler, bool) { return nil, false })

	handled, err := router.Route("post-1", "u1", "+1")
	require.NoError(t, err)
	assert.False(t, handled)
}
