// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements Session: the unit of state bound to one
// (platformId, threadId) thread, owning exactly one child assistant
// process. A session's mutations are single-threaded, enforced with one
// mutex guarding every field rather than a dedicated goroutine per
// session.
package session

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadbridge/threadbridge/internal/breaker"
	"github.com/threadbridge/threadbridge/internal/bridgeerr"
	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/command"
	"github.com/threadbridge/threadbridge/internal/config"
	"github.com/threadbridge/threadbridge/internal/formatter"
	"github.com/threadbridge/threadbridge/internal/interaction"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/registry"
	"github.com/threadbridge/threadbridge/internal/store"
	"github.com/threadbridge/threadbridge/internal/worktree"
)

// Lifecycle is a session's lifecycle state.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecyclePaused      Lifecycle = "paused"
	LifecycleRestarting  Lifecycle = "restarting"
	LifecycleEnding      Lifecycle = "ending"
	LifecycleEnded       Lifecycle = "ended"
)

// WorktreeBinding is a session's optional worktree attachment.
type WorktreeBinding struct {
	RepoRoot string
	Path     string
	Branch   string
	IsOwner  bool
}

// Attachment is a file accompanying a user prompt, already downloaded
// from the platform.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// StartOptions configures a new session's first spawn.
type StartOptions struct {
	WorkingDir                  string
	StartedBy                   string
	AllowedUsers                []string
	SkipPermissions             bool
	ForceInteractivePermissions bool
	Chrome                      bool
	ContextPrefix               string // prepended thread-history context, if the user selected any
	Worktree                    *WorktreeBinding

	// ThreadHistory carries pre-rendered prior-thread lines. When
	// non-empty, the initial prompt is held back until the user picks a
	// context option.
	ThreadHistory []string

	// WorktreeSuggestions, when non-empty, holds the initial prompt back
	// until the user picks a suggested branch, types one, or (outside
	// require mode) skips.
	WorktreeSuggestions []string
	WorktreeRequired    bool
}

// ChildFactory constructs a fresh, unspawned ChildProcess; the session
// calls it once per spawn (initial start, resume, changeDirectory, and
// any restart).
type ChildFactory func() child.ChildProcess

// Deps bundles the collaborators a Session needs but does not own the
// lifecycle of.
type Deps struct {
	Adapter      platform.Adapter
	Registry     *registry.Registry
	Dispatcher   *command.Dispatcher
	Worktree     worktree.Manager // nil when worktree support is disabled
	ChildFactory ChildFactory
	Log          logsink.Sink
	Config       config.Config
	HomeDir      string

	// Persist is invoked after every lifecycle-relevant mutation so the
	// caller (SessionManager) can write the durable snapshot.
	Persist func(rec store.PersistedSession)
	// Ended is invoked once a session transitions to LifecycleEnded so
	// the SessionManager can drop it from its active map.
	Ended func(platformID, threadID string)
	// UpdateRequested is invoked when the user confirms an update prompt;
	// the process supervisor restarts the bridge on the new binary.
	UpdateRequested func()
}

// Session is the unit of state for one bridged thread.
type Session struct {
	PlatformID string
	ThreadID   string
	ID         string // uuid; also the PostRegistry/persistence session id
	ChannelID  string

	deps Deps

	mu                          sync.Mutex
	owner                       string
	allowedUsers                map[string]bool
	startedAt                   time.Time
	lastActivityAt              time.Time
	workingDir                  string
	worktreeInfo                *WorktreeBinding
	lifecycle                   Lifecycle
	messageSessionID            string
	queuedPrompt                string
	queuedFiles                 []Attachment
	threadHistory               []string
	skipPermissions             bool
	forceInteractivePermissions bool
	planApproved                bool
	planApprovalSeen            bool
	messageCount                int
	sessionTitle                string
	lastError                   error
	lastMessageID               string
	lastMessageTS                string
	sessionStartPostID          string
	activeSubagents             map[string]string // toolUseId -> postId
	tasksPostID                 string
	tasksMinimized              bool

	interactionEngine *interaction.Engine
	formatter         *formatter.Formatter
	child             child.ChildProcess

	cancelEvents context.CancelFunc
}

// New creates a Session bound to (platformID, threadID). The caller must
// call Start or Resume before any other operation.
func New(platformID, threadID, channelID string, deps Deps) *Session {
	reg := deps.Registry
	id := uuid.New().String()
	s := &Session{
		PlatformID:    platformID,
		ThreadID:      threadID,
		ID:            id,
		ChannelID:     channelID,
		deps:          deps,
		allowedUsers:  make(map[string]bool),
		activeSubagents: make(map[string]string),
		lifecycle:     LifecycleEnded, // not yet started
	}
	s.interactionEngine = interaction.New(id, threadID, channelID, deps.Adapter, reg)
	s.formatter = formatter.New(id, threadID, channelID, deps.Adapter, reg, sessionFormatterLimits(deps.Config), deps.Log, &sessionDiverter{s: s}, deps.HomeDir, "")
	return s
}

// rebuildFormatterLocked reconstructs the formatter with the session's
// current worktree branch label, e.g. after ChangeDirectory or a worktree
// attach changes what should be shown in the thread header. Caller must
// hold s.mu.
func (s *Session) rebuildFormatterLocked() {
	s.formatter = formatter.New(s.ID, s.ThreadID, s.ChannelID, s.deps.Adapter, s.deps.Registry, sessionFormatterLimits(s.deps.Config), s.deps.Log, &sessionDiverter{s: s}, s.deps.HomeDir, s.worktreeBranchLocked())
}

func sessionFormatterLimits(cfg config.Config) formatter.Limits {
	return formatter.Limits{
		Limits: breaker.Limits{
			MaxHeightPx:         cfg.Breaker.MaxHeightPx,
			SoftBreakChars:      cfg.Breaker.SoftBreakChars,
			MaxLinesBeforeBreak: cfg.Breaker.MaxLinesBeforeBreak,
		},
		UpdateDebounceMs: cfg.Session.UpdateDebounceMs,
	}
}

func (s *Session) worktreeBranchLocked() string {
	if s.worktreeInfo == nil {
		return ""
	}
	return s.worktreeInfo.Branch
}

// Lifecycle returns the session's current lifecycle state.
func (s *Session) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// IsInSessionThread reports whether this session is active or restarting.
func (s *Session) IsInSessionThread() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle == LifecycleActive || s.lifecycle == LifecycleRestarting
}

// LastActivityAt returns the timestamp the idle sweep compares against.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *Session) touch() {
	s.lastActivityAt = time.Now()
}

// Start spawns the child, sends the initial prompt, and begins tracking
// activity. Must be called once, before any other operation.
func (s *Session) Start(ctx context.Context, prompt string, files []Attachment, opts StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owner = opts.StartedBy
	s.allowedUsers[opts.StartedBy] = true
	for _, u := range opts.AllowedUsers {
		s.allowedUsers[u] = true
	}
	s.workingDir = opts.WorkingDir
	s.worktreeInfo = opts.Worktree
	s.skipPermissions = opts.SkipPermissions
	s.forceInteractivePermissions = opts.ForceInteractivePermissions
	s.startedAt = time.Now()

	if err := s.spawnLocked(ctx, child.SpawnOptions{
		WorkingDir:          opts.WorkingDir,
		ThreadID:            s.ThreadID,
		SkipPermissions:     opts.SkipPermissions && !opts.ForceInteractivePermissions,
		Chrome:              opts.Chrome,
		PermissionTimeoutMs: s.deps.Config.Session.PermissionTimeoutMs,
	}); err != nil {
		s.lifecycle = LifecycleEnded
		return bridgeerr.Wrap(bridgeerr.KindSessionFatal, err)
	}

	s.lifecycle = LifecycleActive
	s.touch()

	// A worktree or context prompt holds the initial message back; the
	// interaction outcome releases it.
	if len(opts.WorktreeSuggestions) > 0 {
		s.queuedPrompt = opts.ContextPrefix + prompt
		s.queuedFiles = files
		if err := s.interactionEngine.StartWorktreeInitial(ctx, opts.WorktreeSuggestions, opts.WorktreeRequired); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindRecoverable, err)
		}
		s.formatter.SetGated(true)
		s.persistLocked()
		return nil
	}
	if len(opts.ThreadHistory) > 0 {
		s.queuedPrompt = prompt
		s.queuedFiles = files
		s.threadHistory = opts.ThreadHistory
		if err := s.interactionEngine.StartContextSelection(ctx, prompt, nil, len(opts.ThreadHistory)); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindRecoverable, err)
		}
		s.formatter.SetGated(true)
		s.persistLocked()
		return nil
	}

	if err := s.sendInitialLocked(ctx, opts.ContextPrefix+prompt, files); err != nil {
		return err
	}
	s.persistLocked()
	return nil
}

// sendInitialLocked sends the session's first user turn and starts the
// typing keepalive. Caller must hold s.mu.
func (s *Session) sendInitialLocked(ctx context.Context, prompt string, files []Attachment) error {
	blocks, err := buildMessageContent(prompt, files)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindValidation, err)
	}
	if err := s.child.SendMessage(ctx, blocks); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindRecoverable, err)
	}
	s.messageCount++
	s.formatter.StartTyping(ctx, s.deps.Config.Session.TypingIntervalMs)
	return nil
}

// Resume re-attaches a previously persisted session, re-spawning its
// child with --resume.
func (s *Session) Resume(ctx context.Context, rec store.PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ID = rec.SessionID
	s.owner = rec.StartedBy
	for _, u := range rec.AllowedUsers {
		s.allowedUsers[u] = true
	}
	s.workingDir = rec.WorkingDir
	if rec.WorktreeInfo != nil {
		s.worktreeInfo = &WorktreeBinding{
			RepoRoot: rec.WorktreeInfo.RepoRoot,
			Path:     rec.WorktreeInfo.Path,
			Branch:   rec.WorktreeInfo.Branch,
			IsOwner:  rec.WorktreeInfo.IsOwner,
		}
	}
	s.messageSessionID = rec.ChildSessionID
	s.startedAt = rec.StartedAt
	s.lastActivityAt = rec.LastActivityAt
	s.planApproved = rec.PlanApproved
	s.forceInteractivePermissions = rec.ForceInteractivePermissions
	s.messageCount = rec.MessageCount
	s.sessionStartPostID = rec.SessionStartPostID
	s.sessionTitle = rec.SessionTitle

	if err := s.spawnLocked(ctx, child.SpawnOptions{
		WorkingDir:          s.workingDir,
		ThreadID:            s.ThreadID,
		SkipPermissions:     s.skipPermissions && !s.forceInteractivePermissions,
		Resume:              true,
		SessionID:           s.messageSessionID,
		PermissionTimeoutMs: s.deps.Config.Session.PermissionTimeoutMs,
	}); err != nil {
		s.lifecycle = LifecycleEnded
		return bridgeerr.Wrap(bridgeerr.KindSessionFatal, err)
	}

	s.lifecycle = LifecycleActive
	s.touch()
	if s.sessionStartPostID != "" {
		_ = s.deps.Adapter.UpdatePost(ctx, s.sessionStartPostID, "🔄 Session resumed")
	}
	s.persistLocked()
	return nil
}

// spawnLocked constructs a fresh child via the factory and spawns it.
// Caller must hold s.mu.
func (s *Session) spawnLocked(ctx context.Context, opts child.SpawnOptions) error {
	c := s.deps.ChildFactory()
	if err := c.Spawn(ctx, opts); err != nil {
		return err
	}
	s.child = c
	eventsCtx, cancel := context.WithCancel(context.Background())
	s.cancelEvents = cancel
	go s.consumeChildEvents(eventsCtx, c)
	return nil
}

func (s *Session) consumeChildEvents(ctx context.Context, c child.ChildProcess) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			s.handleChildEvent(ctx, ev)
		}
	}
}

func (s *Session) handleChildEvent(ctx context.Context, ev child.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.formatter.HandleEvent(ctx, ev); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: formatter error: %v", s.PlatformID, s.ThreadID, err)
	}

	switch ev.Kind {
	case child.EventSystem:
		if ev.PermissionRequest != nil {
			s.formatter.SetGated(true)
			if err := s.interactionEngine.StartPermissionPrompt(ctx, ev.PermissionRequest.RequestID, ev.PermissionRequest.ToolName); err != nil {
				s.deps.Log.Warnf("session", "start permission prompt: %v", err)
			}
		}
	case child.EventExit:
		kind := bridgeerr.ClassifyChildExit(ev.ExitCode, s.lifecycle == LifecycleEnding || s.lifecycle == LifecycleRestarting)
		if kind == bridgeerr.KindSessionFatal {
			s.lastError = fmt.Errorf("child exited with code %d", ev.ExitCode)
			s.endLocked(ctx)
		}
	}
	s.touch()
	s.persistLocked()
}

// SendFollowUp appends a user turn to the running child.
func (s *Session) SendFollowUp(ctx context.Context, prompt string, files []Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle != LifecycleActive {
		return fmt.Errorf("session is not active")
	}
	blocks, err := buildMessageContent(prompt, files)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindValidation, err)
	}
	if err := s.child.SendMessage(ctx, blocks); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindRecoverable, err)
	}
	s.messageCount++
	s.touch()
	s.formatter.StartTyping(ctx, s.deps.Config.Session.TypingIntervalMs)
	s.persistLocked()
	return nil
}

// Interrupt signals the child to stop its current turn without exiting.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return nil
	}
	s.formatter.StopTyping()
	err := s.child.Interrupt(ctx)
	s.touch()
	s.persistLocked()
	return err
}

// Cancel stops typing, flushes, terminates the child, clears this
// session's posts from the registry, and transitions to ended.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(ctx)
	return nil
}

func (s *Session) endLocked(ctx context.Context) {
	if s.lifecycle == LifecycleEnded {
		return
	}
	s.lifecycle = LifecycleEnding
	s.formatter.StopTyping()
	s.interactionEngine.Cancel()
	if s.cancelEvents != nil {
		s.cancelEvents()
	}
	if s.child != nil {
		_ = s.child.Kill()
	}
	s.deps.Registry.ClearSession(s.ID)
	s.lifecycle = LifecycleEnded
	if s.deps.Ended != nil {
		s.deps.Ended(s.PlatformID, s.ThreadID)
	}
}

// ChangeDirectory validates path, terminates the current child, and
// spawns a fresh one rooted there with a new child-side session id
// (child sessions are tied to their working directory).
func (s *Session) ChangeDirectory(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindValidation, err)
	}
	if err := s.respawnLocked(ctx, abs); err != nil {
		return err
	}

	shortened := shortenHome(abs, s.deps.HomeDir)
	_, _ = s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("📁 Changed directory to `%s`", shortened))
	s.persistLocked()
	return nil
}

// InviteUser adds userID to the session's allow-list.
func (s *Session) InviteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedUsers[userID] = true
	s.persistLocked()
}

// KickUser removes userID from the session's allow-list.
func (s *Session) KickUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowedUsers, userID)
	s.persistLocked()
}

// IsAuthorized reports whether userID may act on this session: the
// owner, an invited user, or a platform-level allow-listed user.
func (s *Session) IsAuthorized(ctx context.Context, userID string) bool {
	s.mu.Lock()
	allowed := s.allowedUsers[userID]
	s.mu.Unlock()
	return command.IsElevated(userID, allowedUsersSnapshot(s), func(u string) bool {
		return s.deps.Adapter.IsUserAllowed(ctx, u)
	}) || allowed
}

// RequestMessageApproval opens the message-approval interaction for a
// message from an unauthorised user.
func (s *Session) RequestMessageApproval(ctx context.Context, fromUserID, originalMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.interactionEngine.StartMessageApproval(ctx, fromUserID, originalMessage); err != nil {
		return err
	}
	s.formatter.SetGated(true)
	return nil
}

func allowedUsersSnapshot(s *Session) map[string]bool {
	out := make(map[string]bool, len(s.allowedUsers))
	for k, v := range s.allowedUsers {
		out[k] = v
	}
	return out
}

// HandleReaction satisfies reactionrouter.Handler: it forwards the
// reaction to the InteractionEngine, translating the resulting Outcome
// into session-state mutations and child messages.
func (s *Session) HandleReaction(postRole registry.Role, postID, userID, emojiName string) error {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	var inviteTarget string
	if pend := s.interactionEngine.Pending(); pend != nil {
		inviteTarget = pend.FromUserID
	}

	outcome, err := s.interactionEngine.HandleReaction(ctx, userID, emojiName)
	if err != nil {
		return err
	}
	s.applyOutcomeLocked(ctx, outcome, inviteTarget)
	return nil
}

// HandleFollowUpText lets a typed message (rather than a reaction)
// resolve a pending interaction, e.g. a typed worktree branch name.
func (s *Session) HandleFollowUpText(text string) (handled bool) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.interactionEngine.HandleFollowUpText(ctx, text)
	if !ok {
		return false
	}
	s.applyOutcomeLocked(ctx, outcome, "")
	return true
}

func (s *Session) applyOutcomeLocked(ctx context.Context, outcome interaction.Outcome, inviteTarget string) {
	if !outcome.Handled {
		return
	}
	s.touch()
	s.formatter.SetGated(s.interactionEngine.HasPending())

	if outcome.PlanApprovalSeen {
		s.planApprovalSeen = true
		s.planApproved = outcome.PlanApproved
	}
	if outcome.SendToChild != "" && s.child != nil {
		_ = s.child.SendMessage(ctx, []child.ContentBlock{{Type: "text", Text: outcome.SendToChild}})
	}
	if outcome.InviteUser && inviteTarget != "" {
		s.allowedUsers[inviteTarget] = true
	}
	if outcome.RespondPermission != nil && s.child != nil {
		_ = s.child.RespondToPermission(ctx, "", *outcome.RespondPermission)
	}
	if outcome.StartWorktreeBranch != "" {
		s.startWorktreeLocked(ctx, outcome.StartWorktreeBranch)
	}
	if outcome.JoinWorktreePath != "" {
		s.joinWorktreeLocked(ctx, outcome.JoinWorktreeBranch, outcome.JoinWorktreePath)
	}
	if outcome.SkipWorktree {
		s.releaseQueuedLocked(ctx, "")
	}
	if outcome.ContextChoice > 0 {
		s.releaseQueuedLocked(ctx, s.contextPrefixLocked(outcome.ContextChoice))
	}
	if outcome.UpdateNow && s.deps.UpdateRequested != nil {
		_, _ = s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, "♻️ Restarting to apply the update…")
		s.deps.UpdateRequested()
	}
	s.persistLocked()
}

// releaseQueuedLocked sends the held initial prompt, with prefix
// prepended, once the gating interaction resolved. Caller must hold s.mu.
func (s *Session) releaseQueuedLocked(ctx context.Context, prefix string) {
	if s.queuedPrompt == "" {
		return
	}
	prompt, files := s.queuedPrompt, s.queuedFiles
	s.queuedPrompt, s.queuedFiles, s.threadHistory = "", nil, nil
	if err := s.sendInitialLocked(ctx, prefix+prompt, files); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: send queued prompt: %v", s.PlatformID, s.ThreadID, err)
	}
}

// contextPrefixLocked renders the selected slice of thread history into
// the prefix prepended to the queued prompt. Caller must hold s.mu.
func (s *Session) contextPrefixLocked(choice int) string {
	const recentCount = 10
	lines := s.threadHistory
	switch choice {
	case 1:
		return ""
	case 2:
		if len(lines) > recentCount {
			lines = lines[len(lines)-recentCount:]
		}
	case 4:
		return "This session resumed after an idle timeout; pick up where the thread left off.\n\n"
	}
	if len(lines) == 0 {
		return ""
	}
	return "Earlier in this thread:\n" + strings.Join(lines, "\n") + "\n\n"
}

func (s *Session) startWorktreeLocked(ctx context.Context, branch string) {
	if s.deps.Worktree == nil {
		return
	}
	name := s.deps.Worktree.ProjectName() + "-" + strings.ReplaceAll(branch, "/", "-")
	if existing, ok := s.deps.Worktree.GetByName(name); ok {
		if err := s.interactionEngine.StartWorktreeExisting(ctx, branch, existing.Path); err != nil {
			s.deps.Log.Warnf("session", "%s/%s: worktree-existing prompt: %v", s.PlatformID, s.ThreadID, err)
			return
		}
		s.formatter.SetGated(true)
		return
	}
	if err := s.deps.Worktree.Create(ctx, branch, s.ID, true); err != nil {
		var ce *worktree.CreateError
		class := worktree.ErrGeneric
		if asCreateError(err, &ce) {
			class = ce.Class
		}
		_ = s.interactionEngine.StartWorktreeFailure(ctx, branch, err.Error(), class.Suggestion(), s.deps.Config.Session.WorktreeMode == config.WorktreeRequire)
		s.formatter.SetGated(true)
		return
	}
	wt, _ := s.deps.Worktree.GetByName(name)
	repoRoot := s.workingDir
	s.worktreeInfo = &WorktreeBinding{RepoRoot: repoRoot, Path: wt.Path, Branch: branch, IsOwner: true}
	s.rebuildFormatterLocked()
	_, _ = s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("🌿 Created worktree for %s", branch))

	// Child sessions are tied to their working directory, so entering the
	// worktree means a fresh child rooted there.
	if err := s.respawnLocked(ctx, wt.Path); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: respawn in worktree: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.releaseQueuedLocked(ctx, "")
}

// joinWorktreeLocked attaches the session as a non-owner of an existing
// worktree and moves the child into it. Caller must hold s.mu.
func (s *Session) joinWorktreeLocked(ctx context.Context, branch, path string) {
	if s.deps.Worktree == nil {
		return
	}
	name := filepath.Base(path)
	if _, err := s.deps.Worktree.Join(ctx, name, s.ID); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: join worktree %s: %v", s.PlatformID, s.ThreadID, name, err)
		return
	}
	s.worktreeInfo = &WorktreeBinding{RepoRoot: s.workingDir, Path: path, Branch: branch, IsOwner: false}
	s.rebuildFormatterLocked()
	_, _ = s.deps.Adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("🌿 Joined the existing worktree for %s", branch))

	if err := s.respawnLocked(ctx, path); err != nil {
		s.deps.Log.Warnf("session", "%s/%s: respawn in worktree: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.releaseQueuedLocked(ctx, "")
}

// respawnLocked terminates the current child and spawns a fresh one in
// dir with a fresh child-side session id. Caller must hold s.mu.
func (s *Session) respawnLocked(ctx context.Context, dir string) error {
	s.lifecycle = LifecycleRestarting
	if s.cancelEvents != nil {
		s.cancelEvents()
	}
	if s.child != nil {
		_ = s.child.Kill()
	}
	s.messageSessionID = ""
	s.workingDir = dir

	if err := s.spawnLocked(ctx, child.SpawnOptions{
		WorkingDir:          dir,
		ThreadID:            s.ThreadID,
		SkipPermissions:     s.skipPermissions && !s.forceInteractivePermissions,
		PermissionTimeoutMs: s.deps.Config.Session.PermissionTimeoutMs,
	}); err != nil {
		s.lifecycle = LifecycleEnded
		return bridgeerr.Wrap(bridgeerr.KindSessionFatal, err)
	}
	s.lifecycle = LifecycleActive
	s.touch()
	return nil
}

func asCreateError(err error, target **worktree.CreateError) bool {
	for err != nil {
		if ce, ok := err.(*worktree.CreateError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Snapshot returns the persisted representation of this session.
func (s *Session) Snapshot() store.PersistedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() store.PersistedSession {
	var wt *store.WorktreeInfo
	if s.worktreeInfo != nil {
		wt = &store.WorktreeInfo{
			RepoRoot: s.worktreeInfo.RepoRoot,
			Path:     s.worktreeInfo.Path,
			Branch:   s.worktreeInfo.Branch,
			IsOwner:  s.worktreeInfo.IsOwner,
		}
	}
	allowed := make([]string, 0, len(s.allowedUsers))
	for u := range s.allowedUsers {
		allowed = append(allowed, u)
	}
	return store.PersistedSession{
		PlatformID:                  s.PlatformID,
		ThreadID:                    s.ThreadID,
		SessionID:                   s.ID,
		ChildSessionID:              s.messageSessionID,
		WorkingDir:                  s.workingDir,
		WorktreeInfo:                wt,
		StartedBy:                   s.owner,
		AllowedUsers:                allowed,
		StartedAt:                   s.startedAt,
		LastActivityAt:              s.lastActivityAt,
		PlanApproved:                s.planApproved,
		ForceInteractivePermissions: s.forceInteractivePermissions,
		MessageCount:                s.messageCount,
		SessionStartPostID:          s.sessionStartPostID,
		SessionTitle:                s.sessionTitle,
		LifecycleState:              string(s.lifecycle),
	}
}

func (s *Session) persistLocked() {
	if s.deps.Persist != nil {
		s.deps.Persist(s.snapshotLocked())
	}
}

// MarkPaused transitions an active session to paused, e.g. on idle
// timeout or a platform being disabled. The child is left running so a
// reaction-resume can pick back up.
func (s *Session) MarkPaused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == LifecycleActive {
		s.lifecycle = LifecyclePaused
		s.formatter.StopTyping()
		s.persistLocked()
	}
}

// SetSessionHeader records the header post pinned to this session, the
// target of the resume/cancel/interrupt reaction grammar.
func (s *Session) SetSessionHeader(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStartPostID = postID
	s.persistLocked()
}

// NotifyUpdateAvailable opens the update prompt, unless another
// interaction is already pending.
func (s *Session) NotifyUpdateAvailable(ctx context.Context, latestVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != LifecycleActive || s.interactionEngine.HasPending() {
		return nil
	}
	if err := s.interactionEngine.StartUpdatePrompt(ctx, latestVersion); err != nil {
		return err
	}
	s.formatter.SetGated(true)
	return nil
}

// ApprovePlan short-circuits a pending plan approval, as if userID had
// reacted 👍. A no-op when no plan approval is pending.
func (s *Session) ApprovePlan(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pend := s.interactionEngine.Pending()
	if pend == nil || pend.Kind != interaction.KindPlanApproval {
		return
	}
	outcome, err := s.interactionEngine.HandleReaction(ctx, userID, "+1")
	if err != nil {
		s.deps.Log.Warnf("session", "%s/%s: approve plan: %v", s.PlatformID, s.ThreadID, err)
		return
	}
	s.applyOutcomeLocked(ctx, outcome, "")
}

// OpenBugReport opens the bug-report interaction, attaching the most
// recent surfaced error when there is one.
func (s *Session) OpenBugReport(ctx context.Context, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interactionEngine.HasPending() {
		return fmt.Errorf("another interaction is pending")
	}
	body := ""
	if s.lastError != nil {
		body = "Last error: " + s.lastError.Error()
	}
	if err := s.interactionEngine.StartBugReport(ctx, description, body, nil); err != nil {
		return err
	}
	s.formatter.SetGated(true)
	return nil
}

// SetForceInteractive downgrades the session to interactive permission
// prompts; in-session permission changes only ever downgrade.
func (s *Session) SetForceInteractive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceInteractivePermissions = true
	s.persistLocked()
}

// RestartChild respawns the child in the current working directory, for
// plugin installs and similar changes the child only picks up on start.
func (s *Session) RestartChild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.respawnLocked(ctx, s.workingDir); err != nil {
		return err
	}
	s.persistLocked()
	return nil
}

// StartWorktree creates a worktree for branch and moves the session's
// child into it, mid-session.
func (s *Session) StartWorktree(ctx context.Context, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startWorktreeLocked(ctx, branch)
	s.persistLocked()
}

func shortenHome(path, homeDir string) string {
	if homeDir == "" || !strings.HasPrefix(path, homeDir) {
		return path
	}
	rel, err := filepath.Rel(homeDir, path)
	if err != nil {
		return path
	}
	return "~/" + rel
}

// textExtensionAllowList is the small set of extensions inlined verbatim
// even though their MIME type isn't text/*.
var textExtensionAllowList = map[string]bool{
	".md": true, ".txt": true, ".log": true, ".diff": true,
	".patch": true, ".json": true, ".yaml": true, ".yml": true, ".csv": true,
}

// buildMessageContent combines prompt text with file attachments into
// content blocks: images become image blocks, PDFs become document
// blocks, small text files (by MIME or allow-listed extension) are
// inlined verbatim, .gz attachments are decompressed and re-checked
// against the same table, and anything else is elided with a
// user-visible note listing what was skipped.
func buildMessageContent(prompt string, files []Attachment) ([]child.ContentBlock, error) {
	blocks := []child.ContentBlock{{Type: "text", Text: prompt}}
	var elided []string

	for _, f := range files {
		name, mime, data := f.Name, f.MimeType, f.Data
		if strings.HasSuffix(strings.ToLower(name), ".gz") {
			decompressed, err := gunzip(data)
			if err == nil {
				name = strings.TrimSuffix(name, ".gz")
				data = decompressed
				mime = mimeFor(name, "")
			}
		}

		switch {
		case strings.HasPrefix(mime, "image/"):
			blocks = append(blocks, child.ContentBlock{
				Type:  "image",
				Name:  name,
				Input: sourceJSON(mime, data),
			})
		case mime == "application/pdf":
			blocks = append(blocks, child.ContentBlock{
				Type:  "document",
				Name:  name,
				Input: sourceJSON(mime, data),
			})
		case strings.HasPrefix(mime, "text/") || textExtensionAllowList[filepath.Ext(name)]:
			blocks = append(blocks, child.ContentBlock{
				Type: "text",
				Text: fmt.Sprintf("--- file: %s ---\n%s", name, string(data)),
			})
		default:
			elided = append(elided, name)
		}
	}

	if len(elided) > 0 {
		blocks = append(blocks, child.ContentBlock{
			Type: "text",
			Text: fmt.Sprintf("(%d attachment(s) skipped, unsupported type: %s)", len(elided), strings.Join(elided, ", ")),
		})
	}
	return blocks, nil
}

func mimeFor(name, fallback string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md", ".log":
		return "text/plain"
	}
	return fallback
}

func sourceJSON(mime string, data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	return []byte(fmt.Sprintf(`{"type":"base64","media_type":%q,"data":%q}`, mime, encoded))
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
