// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package interaction implements the InteractionEngine: the finite state
// machines that drive user decisions (plan approval, question sets,
// worktree prompts, permission prompts, update prompts, message approval,
// bug reports). At most one interaction is pending per session at a time.
package interaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadbridge/threadbridge/internal/emoji"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/registry"
)

// Kind discriminates the PendingInteraction sum type.
type Kind string

const (
	KindPlanApproval     Kind = "plan-approval"
	KindQuestionSet      Kind = "question-set"
	KindWorktreeInitial  Kind = "worktree-initial"
	KindWorktreeExisting Kind = "worktree-existing"
	KindWorktreeFailure  Kind = "worktree-failure"
	KindContextSelection Kind = "context-selection"
	KindUpdatePrompt     Kind = "update-prompt"
	KindMessageApproval  Kind = "message-approval"
	KindPermissionPrompt Kind = "permission-prompt"
	KindBugReport        Kind = "bug-report"
)

// Option is one choice in a QuestionSet question.
type Option struct {
	Label       string
	Description string
}

// Question is one entry of an AskUserQuestion input.
type Question struct {
	Header        string
	Prompt        string
	Options       []Option
	SelectedLabel string
}

// Pending is the sum type over every interaction variant. Only the
// fields relevant to Kind are populated.
type Pending struct {
	Kind Kind

	PostID string

	// QuestionSet
	ToolUseID    string
	Questions    []Question
	CurrentIndex int

	// WorktreeInitial / WorktreeExisting / WorktreeFailure
	Suggestions  []string
	Branch       string
	ExistingPath string
	FailedBranch string
	WorktreeErr  string
	RequireMode  bool

	// ContextSelection
	QueuedPrompt        string
	QueuedFiles         []string
	ThreadMessageCount  int

	// UpdatePrompt
	LatestVersion string

	// MessageApproval
	FromUserID      string
	OriginalMessage string

	// PermissionPrompt
	PermissionRequestID string
	PermissionToolName  string

	// BugReport
	DraftTitle      string
	DraftBody       string
	Attachments     []string
}

// Outcome is what the engine asks the caller (Session) to do after a
// transition. Exactly the relevant fields are populated.
type Outcome struct {
	Handled bool
	// SendToChild, if non-empty, should be sent as the next user turn.
	SendToChild string
	// Completed reports the interaction is now resolved and should be
	// cleared from the session's pending slot.
	Completed bool
	// PlanApproved is set true/false when a plan-approval transition
	// resolves; the session persists this flag.
	PlanApproved     bool
	PlanApprovalSeen bool
	// StartWorktree/SkipWorktree carry the worktree decision back to the
	// session, which owns git worktree orchestration.
	StartWorktreeBranch string
	SkipWorktree        bool
	// InviteUser/ApproveOnce carry a message-approval decision.
	InviteUser  bool
	ApproveOnce bool
	DenyUser    bool
	// RespondPermission carries a permission-prompt decision back so the
	// session can reply to the child.
	RespondPermission *bool
	// UpdateNow/DeferUpdate carry an update-prompt decision.
	UpdateNow   bool
	DeferUpdate bool
	// JoinWorktreePath/JoinWorktreeBranch carry a confirmed join of an
	// already-existing worktree.
	JoinWorktreePath   string
	JoinWorktreeBranch string
	// ContextChoice is the 1-based option picked on a context-selection
	// prompt (1 none, 2 recent, 3 whole thread, 4 timeout reason only).
	ContextChoice int
	// FileBugReport reports a confirmed bug-report interaction.
	FileBugReport bool
}

// Engine owns the single pending interaction for one session.
type Engine struct {
	sessionID string
	threadID  string
	channelID string
	adapter   platform.Adapter
	reg       *registry.Registry

	pending *Pending
}

// New creates an Engine for one session.
func New(sessionID, threadID, channelID string, adapter platform.Adapter, reg *registry.Registry) *Engine {
	return &Engine{sessionID: sessionID, threadID: threadID, channelID: channelID, adapter: adapter, reg: reg}
}

// Pending returns the current pending interaction, if any.
func (e *Engine) Pending() *Pending { return e.pending }

// HasPending reports whether an interaction is outstanding.
func (e *Engine) HasPending() bool { return e.pending != nil }

// Cancel clears any pending interaction without resolving it, for session
// end or an explicit !stop.
func (e *Engine) Cancel() { e.pending = nil }

func (e *Engine) register(postID string, role registry.Role) {
	e.reg.Register(postID, e.threadID, e.sessionID, role, "", nil)
}

// StartPlanApproval posts the plan-ready prompt and seeds 👍/👎.
func (e *Engine) StartPlanApproval(ctx context.Context) error {
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, "Plan ready for approval", []string{"+1", "-1"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleApproval)
	e.pending = &Pending{Kind: KindPlanApproval, PostID: post.ID}
	return nil
}

// StartQuestionSet posts the first question of a multi-question prompt.
func (e *Engine) StartQuestionSet(ctx context.Context, toolUseID string, questions []Question) error {
	e.pending = &Pending{Kind: KindQuestionSet, ToolUseID: toolUseID, Questions: questions, CurrentIndex: 0}
	return e.postCurrentQuestion(ctx)
}

func (e *Engine) postCurrentQuestion(ctx context.Context) error {
	q := e.pending.Questions[e.pending.CurrentIndex]
	reactions := make([]string, 0, len(q.Options))
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n", q.Header, q.Prompt)
	for i, opt := range q.Options {
		if i >= 4 {
			break
		}
		glyph := emoji.NumberGlyph(i + 1)
		fmt.Fprintf(&b, "%s %s", glyph, opt.Label)
		if opt.Description != "" {
			fmt.Fprintf(&b, " — %s", opt.Description)
		}
		b.WriteString("\n")
		reactions = append(reactions, []string{"one", "two", "three", "four"}[i])
	}
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, b.String(), reactions)
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleQuestion)
	e.pending.PostID = post.ID
	return nil
}

// HandleReaction applies a normalised reaction to the pending interaction.
func (e *Engine) HandleReaction(ctx context.Context, userID, rawEmoji string) (Outcome, error) {
	if e.pending == nil {
		return Outcome{}, nil
	}
	cls, ok := emoji.Classify(rawEmoji)
	if !ok {
		return Outcome{}, nil
	}

	switch e.pending.Kind {
	case KindPlanApproval:
		return e.handlePlanApprovalReaction(ctx, userID, cls)
	case KindQuestionSet:
		return e.handleQuestionSetReaction(ctx, cls)
	case KindWorktreeInitial:
		return e.handleWorktreeInitialReaction(ctx, cls)
	case KindWorktreeExisting:
		return e.handleWorktreeExistingReaction(ctx, cls)
	case KindWorktreeFailure:
		return e.handleWorktreeFailureReaction(ctx, cls)
	case KindMessageApproval:
		return e.handleMessageApprovalReaction(ctx, cls)
	case KindUpdatePrompt:
		return e.handleUpdatePromptReaction(ctx, cls)
	case KindPermissionPrompt:
		return e.handlePermissionPromptReaction(ctx, cls)
	case KindContextSelection:
		return e.handleContextSelectionReaction(ctx, cls)
	case KindBugReport:
		return e.handleBugReportReaction(ctx, cls)
	}
	return Outcome{}, nil
}

func (e *Engine) handlePlanApprovalReaction(ctx context.Context, userID string, cls emoji.Class) (Outcome, error) {
	postID := e.pending.PostID
	switch cls {
	case emoji.ClassApproval:
		if err := e.adapter.UpdatePost(ctx, postID, fmt.Sprintf("✅ Plan approved by @%s", userID)); err != nil {
			return Outcome{}, err
		}
		e.pending = nil
		return Outcome{Handled: true, Completed: true, SendToChild: "Approved. Please proceed.", PlanApprovalSeen: true, PlanApproved: true}, nil
	case emoji.ClassDeny:
		if err := e.adapter.UpdatePost(ctx, postID, fmt.Sprintf("❌ Plan rejected by @%s", userID)); err != nil {
			return Outcome{}, err
		}
		e.pending = nil
		return Outcome{Handled: true, Completed: true, SendToChild: "Please revise the plan.", PlanApprovalSeen: true, PlanApproved: false}, nil
	}
	return Outcome{}, nil
}

func (e *Engine) handleQuestionSetReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	idx := emoji.NumberIndex(cls)
	if idx == 0 {
		return Outcome{}, nil
	}
	q := &e.pending.Questions[e.pending.CurrentIndex]
	if idx > len(q.Options) {
		return Outcome{}, nil
	}
	q.SelectedLabel = q.Options[idx-1].Label
	if err := e.adapter.UpdatePost(ctx, e.pending.PostID, fmt.Sprintf("✅ %s: %s", q.Header, q.SelectedLabel)); err != nil {
		return Outcome{}, err
	}

	if e.pending.CurrentIndex+1 < len(e.pending.Questions) {
		e.pending.CurrentIndex++
		if err := e.postCurrentQuestion(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Handled: true}, nil
	}

	var b strings.Builder
	b.WriteString("Here are my answers:\n")
	for _, question := range e.pending.Questions {
		fmt.Fprintf(&b, "- %s: %s\n", question.Header, question.SelectedLabel)
	}
	msg := strings.TrimRight(b.String(), "\n")
	e.pending = nil
	return Outcome{Handled: true, Completed: true, SendToChild: msg}, nil
}

// StartWorktreeInitial posts suggestions for a pre-session worktree pick.
func (e *Engine) StartWorktreeInitial(ctx context.Context, suggestions []string, requireMode bool) error {
	reactions := []string{"one", "two", "three"}[:min(3, len(suggestions))]
	if !requireMode {
		reactions = append(reactions, "x")
	}
	var b strings.Builder
	b.WriteString("Pick a branch for this session:\n")
	for i, s := range suggestions {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%s %s\n", emoji.NumberGlyph(i+1), s)
	}
	if !requireMode {
		b.WriteString("❌ work in the main repo\n")
	}
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, b.String(), reactions)
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleWorktreePrompt)
	e.pending = &Pending{Kind: KindWorktreeInitial, PostID: post.ID, Suggestions: suggestions, RequireMode: requireMode}
	return nil
}

func (e *Engine) handleWorktreeInitialReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	if cls == emoji.ClassCancel && !e.pending.RequireMode {
		e.pending = nil
		return Outcome{Handled: true, Completed: true, SkipWorktree: true}, nil
	}
	idx := emoji.NumberIndex(cls)
	if idx == 0 || idx > len(e.pending.Suggestions) {
		return Outcome{}, nil
	}
	branch := e.pending.Suggestions[idx-1]
	e.pending = nil
	return Outcome{Handled: true, Completed: true, StartWorktreeBranch: branch}, nil
}

// StartWorktreeExisting asks whether to join a worktree that already
// exists for the requested branch.
func (e *Engine) StartWorktreeExisting(ctx context.Context, branch, existingPath string) error {
	msg := fmt.Sprintf("A worktree for `%s` already exists at %s. Join it?", branch, existingPath)
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, []string{"+1", "x"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleWorktreePrompt)
	e.pending = &Pending{Kind: KindWorktreeExisting, PostID: post.ID, Branch: branch, ExistingPath: existingPath}
	return nil
}

func (e *Engine) handleWorktreeExistingReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	switch cls {
	case emoji.ClassApproval:
		branch, path := e.pending.Branch, e.pending.ExistingPath
		e.pending = nil
		return Outcome{Handled: true, Completed: true, JoinWorktreePath: path, JoinWorktreeBranch: branch}, nil
	case emoji.ClassCancel:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, SkipWorktree: true}, nil
	}
	return Outcome{}, nil
}

// HandleFollowUpText handles a typed follow-up message while an
// interaction is pending (e.g. a typed branch name for WorktreeInitial).
func (e *Engine) HandleFollowUpText(ctx context.Context, text string) (Outcome, bool) {
	if e.pending == nil {
		return Outcome{}, false
	}
	switch e.pending.Kind {
	case KindWorktreeInitial, KindWorktreeFailure:
		branch := strings.TrimSpace(text)
		if branch == "" {
			return Outcome{}, false
		}
		e.pending = nil
		return Outcome{Handled: true, Completed: true, StartWorktreeBranch: branch}, true
	}
	return Outcome{}, false
}

// StartWorktreeFailure posts an error summary after a failed worktree
// create, offering retry via a typed new branch name, plus a ❌ skip in
// non-require mode only.
func (e *Engine) StartWorktreeFailure(ctx context.Context, failedBranch, errSummary, suggestion string, requireMode bool) error {
	msg := fmt.Sprintf("Could not create worktree for `%s`: %s\nSuggestion: %s", failedBranch, errSummary, suggestion)
	reactions := []string{}
	if !requireMode {
		reactions = append(reactions, "x")
	}
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, reactions)
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleWorktreePrompt)
	e.pending = &Pending{Kind: KindWorktreeFailure, PostID: post.ID, FailedBranch: failedBranch, WorktreeErr: errSummary, RequireMode: requireMode}
	return nil
}

func (e *Engine) handleWorktreeFailureReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	if cls == emoji.ClassCancel && !e.pending.RequireMode {
		e.pending = nil
		return Outcome{Handled: true, Completed: true, SkipWorktree: true}, nil
	}
	return Outcome{}, nil
}

// StartContextSelection posts the history-inclusion prompt.
func (e *Engine) StartContextSelection(ctx context.Context, queuedPrompt string, queuedFiles []string, threadMessageCount int) error {
	msg := fmt.Sprintf("This thread already has %d messages. How much prior history should I include?\n"+
		"1️⃣ none  2️⃣ recent messages  3️⃣ whole thread  4️⃣ timeout reason only", threadMessageCount)
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, []string{"one", "two", "three", "four"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleContextPrompt)
	e.pending = &Pending{Kind: KindContextSelection, PostID: post.ID, QueuedPrompt: queuedPrompt, QueuedFiles: queuedFiles, ThreadMessageCount: threadMessageCount}
	return nil
}

func (e *Engine) handleContextSelectionReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	idx := emoji.NumberIndex(cls)
	if idx == 0 {
		return Outcome{}, nil
	}
	labels := []string{"no prior history", "recent messages", "the whole thread", "the timeout reason"}
	_ = e.adapter.UpdatePost(ctx, e.pending.PostID, fmt.Sprintf("✅ Including %s", labels[idx-1]))
	e.pending = nil
	return Outcome{Handled: true, Completed: true, ContextChoice: idx}, nil
}

// StartUpdatePrompt posts an available-update notice.
func (e *Engine) StartUpdatePrompt(ctx context.Context, latestVersion string) error {
	msg := fmt.Sprintf("An update to %s is available. Update now or defer?", latestVersion)
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, []string{"white_check_mark", "x"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleUpdatePrompt)
	e.pending = &Pending{Kind: KindUpdatePrompt, PostID: post.ID, LatestVersion: latestVersion}
	return nil
}

func (e *Engine) handleUpdatePromptReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	switch cls {
	case emoji.ClassAllowAll:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, UpdateNow: true}, nil
	case emoji.ClassCancel:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, DeferUpdate: true}, nil
	}
	return Outcome{}, nil
}

// StartMessageApproval posts an allow/deny/invite prompt for a message
// from a user outside the session's allow-list.
func (e *Engine) StartMessageApproval(ctx context.Context, fromUserID, originalMessage string) error {
	msg := fmt.Sprintf("@%s is not authorised for this session. Allow this message once, invite them, or deny?", fromUserID)
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, []string{"white_check_mark", "+1", "-1"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleSystem)
	e.pending = &Pending{Kind: KindMessageApproval, PostID: post.ID, FromUserID: fromUserID, OriginalMessage: originalMessage}
	return nil
}

func (e *Engine) handleMessageApprovalReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	switch cls {
	case emoji.ClassAllowAll:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, ApproveOnce: true}, nil
	case emoji.ClassApproval:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, InviteUser: true}, nil
	case emoji.ClassDeny:
		e.pending = nil
		return Outcome{Handled: true, Completed: true, DenyUser: true}, nil
	}
	return Outcome{}, nil
}

// StartPermissionPrompt posts a tool-approval request from the child.
func (e *Engine) StartPermissionPrompt(ctx context.Context, requestID, toolName string) error {
	msg := fmt.Sprintf("Allow %s to run?", toolName)
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, msg, []string{"+1", "-1"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RolePermission)
	e.pending = &Pending{Kind: KindPermissionPrompt, PostID: post.ID, PermissionRequestID: requestID, PermissionToolName: toolName}
	return nil
}

func (e *Engine) handlePermissionPromptReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	var approve bool
	switch cls {
	case emoji.ClassApproval:
		approve = true
	case emoji.ClassDeny:
		approve = false
	default:
		return Outcome{}, nil
	}
	label := "❌ denied"
	if approve {
		label = "✅ approved"
	}
	if err := e.adapter.UpdatePost(ctx, e.pending.PostID, fmt.Sprintf("%s %s", e.pending.PermissionToolName, label)); err != nil {
		return Outcome{}, err
	}
	e.pending = nil
	return Outcome{Handled: true, Completed: true, RespondPermission: &approve}, nil
}

// StartBugReport posts a draft bug report for confirmation before filing.
func (e *Engine) StartBugReport(ctx context.Context, draftTitle, draftBody string, attachments []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🐛 Bug report draft: %s\n", draftTitle)
	if draftBody != "" {
		fmt.Fprintf(&b, "%s\n", draftBody)
	}
	if len(attachments) > 0 {
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString("File it?")
	post, err := e.adapter.CreateInteractivePost(ctx, e.channelID, e.threadID, b.String(), []string{"+1", "-1"})
	if err != nil {
		return err
	}
	e.register(post.ID, registry.RoleBugReport)
	e.pending = &Pending{Kind: KindBugReport, PostID: post.ID, DraftTitle: draftTitle, DraftBody: draftBody, Attachments: attachments}
	return nil
}

func (e *Engine) handleBugReportReaction(ctx context.Context, cls emoji.Class) (Outcome, error) {
	switch cls {
	case emoji.ClassApproval:
		title := e.pending.DraftTitle
		if err := e.adapter.UpdatePost(ctx, e.pending.PostID, fmt.Sprintf("🐛 Bug report filed: %s", title)); err != nil {
			return Outcome{}, err
		}
		e.pending = nil
		return Outcome{Handled: true, Completed: true, FileBugReport: true}, nil
	case emoji.ClassDeny:
		_ = e.adapter.UpdatePost(ctx, e.pending.PostID, "Bug report discarded.")
		e.pending = nil
		return Outcome{Handled: true, Completed: true}, nil
	}
	return Outcome{}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
