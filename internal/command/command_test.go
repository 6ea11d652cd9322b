// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryWithHandlers() *Registry {
	r := NewRegistry()
	for _, c := range DefaultTable() {
		c := c
		c.Handler = func(inv Invocation) Result { return Result{Handled: true, RemainingText: inv.Remainder} }
		r.Register(c)
	}
	return r
}

func TestDispatch_UnknownCommandNotHandled(t *testing.T) {
	d := NewDispatcher(newRegistryWithHandlers())
	out := d.Dispatch("!nonexistent", ContextInSession, "u1")
	assert.False(t, out.Handled)
}

func TestDispatch_NonCommandTextNotHandled(t *testing.T) {
	d := NewDispatcher(newRegistryWithHandlers())
	out := d.Dispatch("hello there", ContextInSession, "u1")
	assert.False(t, out.Handled)
}

func TestDispatch_FirstMessageGatingRejectsInSessionOnlyCommand(t *testing.T) {
	d := NewDispatcher(newRegistryWithHandlers())
	out := d.Dispatch("!stop", ContextFirstMessage, "u1")
	assert.False(t, out.Handled, "stop is not works-in-first-message")

	out = d.Dispatch("!stop", ContextInSession, "u1")
	assert.True(t, out.Handled)
}

func TestDispatch_CdWorksInFirstMessage(t *testing.T) {
	d := NewDispatcher(newRegistryWithHandlers())
	out := d.Dispatch("!cd /tmp/project", ContextFirstMessage, "u1")
	assert.True(t, out.Handled)
	assert.Equal(t, "/tmp/project", out.RemainingText)
}

func TestAssistantExecutable_OnlyIncludesFlaggedCommands(t *testing.T) {
	r := newRegistryWithHandlers()
	exec := r.AssistantExecutable()
	assert.True(t, exec["cd"])
	assert.True(t, exec["compact"])
	assert.False(t, exec["stop"])
	assert.False(t, exec["help"])
}

func TestHelpText_ListsEveryCommand(t *testing.T) {
	r := newRegistryWithHandlers()
	help := r.HelpText()
	assert.Contains(t, help, "!help")
	assert.Contains(t, help, "!worktree")
}

func TestIsElevated(t *testing.T) {
	allowed := map[string]bool{"u1": true}
	assert.True(t, IsElevated("u1", allowed, nil))
	assert.False(t, IsElevated("u2", allowed, nil))
	assert.True(t, IsElevated("u2", allowed, func(id string) bool { return id == "u2" }))
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("!stop"))
	assert.True(t, IsCommand("  !stop"))
	assert.False(t, IsCommand("stop"))
}

func TestDispatch_RegistryLookupMiss(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
	require.NotPanics(t, func() { NewDispatcher(r).Dispatch("!ghost", ContextInSession, "u") })
}
