// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/interaction"
	"github.com/threadbridge/threadbridge/internal/registry"
)

// sessionDiverter implements formatter.Diverter by routing ExitPlanMode and
// AskUserQuestion tool_use blocks to this session's InteractionEngine, and
// handling TodoWrite/Task side-channel updates (task list post, subagent
// status posts). Formatter.HandleEvent is always invoked from
// handleChildEvent with s.mu already held, so these methods must not
// re-lock it.
type sessionDiverter struct{ s *Session }

func (d *sessionDiverter) Divert(ctx context.Context, sessionID string, block child.ContentBlock) bool {
	switch block.Name {
	case "ExitPlanMode":
		d.s.onExitPlanModeLocked(ctx)
		return true
	case "AskUserQuestion":
		d.s.onAskUserQuestionLocked(ctx, block)
		return true
	}
	return false
}

func (d *sessionDiverter) SideChannel(ctx context.Context, sessionID string, block child.ContentBlock) {
	switch block.Name {
	case "TodoWrite":
		d.s.onTodoWriteLocked(ctx, block)
	case "Task":
		d.s.onTaskLocked(ctx, block)
	}
}

func (d *sessionDiverter) CompleteSubagent(ctx context.Context, sessionID, toolUseID string, isError bool) {
	d.s.onSubagentResultLocked(ctx, toolUseID, isError)
}

// onExitPlanModeLocked either prompts for plan approval or, if the user
// already approved a plan earlier in this session, auto-continues
// without re-prompting.
func (s *Session) onExitPlanModeLocked(ctx context.Context) {
	if s.planApprovalSeen && s.planApproved {
		if s.child != nil {
			_ = s.child.SendMessage(ctx, []child.ContentBlock{{Type: "text", Text: "Approved. Please proceed."}})
		}
		return
	}
	if err := s.interactionEngine.StartPlanApproval(ctx); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: start plan approval: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.formatter.SetGated(true)
}

type askUserQuestionInput struct {
	Questions []struct {
		Header  string `json:"header"`
		Prompt  string `json:"question"`
		Options []struct {
			Label       string `json:"label"`
			Description string `json:"description"`
		} `json:"options"`
	} `json:"questions"`
}

func (s *Session) onAskUserQuestionLocked(ctx context.Context, block child.ContentBlock) {
	var parsed askUserQuestionInput
	if err := json.Unmarshal(block.Input, &parsed); err != nil || len(parsed.Questions) == 0 {
		s.deps.Log.Warnf("session", "%s/%s: parse AskUserQuestion input: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	questions := make([]interaction.Question, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		opts := make([]interaction.Option, 0, len(q.Options))
		for _, o := range q.Options {
			opts = append(opts, interaction.Option{Label: o.Label, Description: o.Description})
		}
		questions = append(questions, interaction.Question{Header: q.Header, Prompt: q.Prompt, Options: opts})
	}
	if err := s.interactionEngine.StartQuestionSet(ctx, block.ID, questions); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: start question set: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.formatter.SetGated(true)
}

type todoWriteInput struct {
	Todos []struct {
		Content string `json:"content"`
		Status  string `json:"status"`
	} `json:"todos"`
}

func todoGlyph(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "in_progress":
		return "🔄"
	default:
		return "⬜"
	}
}

// onTodoWriteLocked renders the latest TodoWrite payload as a single
// task-list post, creating it on first use and updating it thereafter.
func (s *Session) onTodoWriteLocked(ctx context.Context, block child.ContentBlock) {
	var parsed todoWriteInput
	if err := json.Unmarshal(block.Input, &parsed); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: parse TodoWrite input: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	var b strings.Builder
	b.WriteString("📋 Tasks\n")
	for _, t := range parsed.Todos {
		fmt.Fprintf(&b, "%s %s\n", todoGlyph(t.Status), t.Content)
	}
	msg := strings.TrimRight(b.String(), "\n")

	if s.tasksPostID != "" {
		if err := s.deps.Adapter.UpdatePost(ctx, s.tasksPostID, msg); err == nil {
			return
		}
		s.tasksPostID = ""
	}
	post, err := s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, msg)
	if err != nil {
		s.deps.Log.Warnf("session", "%s/%s: create task-list post: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.tasksPostID = post.ID
	s.deps.Registry.Register(post.ID, s.ThreadID, s.ID, registry.RoleTaskList, "", nil)
}

type taskInput struct {
	Description string `json:"description"`
}

// onTaskLocked posts a status placeholder for a launched subagent and
// tracks it in activeSubagents, keyed by the Task tool_use's id, so a
// matching tool_result can later mark it completed.
func (s *Session) onTaskLocked(ctx context.Context, block child.ContentBlock) {
	var parsed taskInput
	_ = json.Unmarshal(block.Input, &parsed)
	desc := parsed.Description
	if desc == "" {
		desc = "subagent task"
	}
	post, err := s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("🤖 %s — running…", desc))
	if err != nil {
		s.deps.Log.Warnf("session", "%s/%s: create subagent-status post: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.deps.Registry.Register(post.ID, s.ThreadID, s.ID, registry.RoleSubagentStatus, block.ID, nil)
	s.activeSubagents[block.ID] = post.ID
}

// onSubagentResultLocked updates the tracked subagent status post once its
// tool_result arrives; a toolUseID not present in activeSubagents is not a
// subagent result and is silently ignored.
func (s *Session) onSubagentResultLocked(ctx context.Context, toolUseID string, isError bool) {
	postID, ok := s.activeSubagents[toolUseID]
	if !ok {
		return
	}
	delete(s.activeSubagents, toolUseID)
	status := "✅ completed"
	if isError {
		status = "❌ failed"
	}
	_ = s.deps.Adapter.UpdatePost(ctx, postID, status)
}
