// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package interaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/platform/memory"
	"github.com/threadbridge/threadbridge/internal/registry"
)

func newTestEngine() (*Engine, *memory.Adapter) {
	adapter := memory.New("test", platform.BotIdentity{ID: "bot", Name: "bot"})
	reg := registry.New()
	return New("session-1", "thread-1", "chan-1", adapter, reg), adapter
}

func TestPlanApproval_HappyPath(t *testing.T) {
	e, adapter := newTestEngine()
	ctx := context.Background()

	require.NoError(t, e.StartPlanApproval(ctx))
	require.True(t, e.HasPending())
	postID := e.Pending().PostID

	out, err := e.HandleReaction(ctx, "u1", "+1")
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.True(t, out.PlanApproved)
	assert.Equal(t, "Approved. Please proceed.", out.SendToChild)
	assert.False(t, e.HasPending())

	post, err := adapter.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Contains(t, post.Message, "approved by @u1")
}

func TestPlanApproval_Rejection(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartPlanApproval(ctx))

	out, err := e.HandleReaction(ctx, "u1", "-1")
	require.NoError(t, err)
	assert.False(t, out.PlanApproved)
	assert.Equal(t, "Please revise the plan.", out.SendToChild)
}

func TestQuestionSet_TwoQuestions(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	questions := []Question{
		{Header: "Color", Options: []Option{{Label: "Red"}, {Label: "Blue"}}},
		{Header: "Size", Options: []Option{{Label: "S"}, {Label: "M"}, {Label: "L"}}},
	}
	require.NoError(t, e.StartQuestionSet(ctx, "tool-1", questions))
	assert.Equal(t, 0, e.Pending().CurrentIndex)

	out, err := e.HandleReaction(ctx, "u1", "2️⃣")
	require.NoError(t, err)
	assert.False(t, out.Completed)
	require.True(t, e.HasPending())
	assert.Equal(t, 1, e.Pending().CurrentIndex)
	assert.Equal(t, "Blue", e.Pending().Questions[0].SelectedLabel)

	out, err = e.HandleReaction(ctx, "u1", "three")
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "Here are my answers:\n- Color: Blue\n- Size: L", out.SendToChild)
	assert.False(t, e.HasPending())
}

func TestWorktreeInitial_NumberSelectsBranch(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartWorktreeInitial(ctx, []string{"feature-a", "feature-b"}, false))

	out, err := e.HandleReaction(ctx, "u1", "two")
	require.NoError(t, err)
	assert.Equal(t, "feature-b", out.StartWorktreeBranch)
	assert.False(t, e.HasPending())
}

func TestWorktreeInitial_CancelSkipsInNonRequireMode(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartWorktreeInitial(ctx, []string{"feature-a"}, false))

	out, err := e.HandleReaction(ctx, "u1", "x")
	require.NoError(t, err)
	assert.True(t, out.SkipWorktree)
}

func TestWorktreeInitial_CancelIgnoredInRequireMode(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartWorktreeInitial(ctx, []string{"feature-a"}, true))

	out, err := e.HandleReaction(ctx, "u1", "x")
	require.NoError(t, err)
	assert.False(t, out.Handled)
	assert.True(t, e.HasPending())
}

func TestPermissionPrompt_Approve(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartPermissionPrompt(ctx, "req-1", "Bash"))

	out, err := e.HandleReaction(ctx, "u1", "+1")
	require.NoError(t, err)
	require.NotNil(t, out.RespondPermission)
	assert.True(t, *out.RespondPermission)
}

func TestWorktreeExisting_JoinAndSkip(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartWorktreeExisting(ctx, "feature-a", "/tmp/wt/app-feature-a"))

	out, err := e.HandleReaction(ctx, "u1", "+1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wt/app-feature-a", out.JoinWorktreePath)
	assert.Equal(t, "feature-a", out.JoinWorktreeBranch)
	assert.False(t, e.HasPending())

	require.NoError(t, e.StartWorktreeExisting(ctx, "feature-a", "/tmp/wt/app-feature-a"))
	out, err = e.HandleReaction(ctx, "u1", "x")
	require.NoError(t, err)
	assert.True(t, out.SkipWorktree)
}

func TestContextSelection_ReturnsChoice(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartContextSelection(ctx, "do the thing", nil, 12))

	out, err := e.HandleReaction(ctx, "u1", "three")
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, 3, out.ContextChoice)
	assert.False(t, e.HasPending())
}

func TestBugReport_FileAndDiscard(t *testing.T) {
	e, adapter := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartBugReport(ctx, "streaming stops mid-post", "Last error: update failed", nil))
	postID := e.Pending().PostID

	out, err := e.HandleReaction(ctx, "u1", "+1")
	require.NoError(t, err)
	assert.True(t, out.FileBugReport)

	post, err := adapter.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Contains(t, post.Message, "Bug report filed")

	require.NoError(t, e.StartBugReport(ctx, "another", "", nil))
	out, err = e.HandleReaction(ctx, "u1", "-1")
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.False(t, out.FileBugReport)
}

func TestUpdatePrompt_NowAndDefer(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartUpdatePrompt(ctx, "abc123def456"))

	out, err := e.HandleReaction(ctx, "u1", "white_check_mark")
	require.NoError(t, err)
	assert.True(t, out.UpdateNow)

	require.NoError(t, e.StartUpdatePrompt(ctx, "abc123def456"))
	out, err = e.HandleReaction(ctx, "u1", "x")
	require.NoError(t, err)
	assert.True(t, out.DeferUpdate)
}

func TestCancel_ClearsPending(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.StartPlanApproval(ctx))
	e.Cancel()
	assert.False(t, e.HasPending())
}
