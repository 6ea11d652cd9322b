// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionmanager implements the SessionManager: it owns every
// Session, enforces the concurrency cap, fans incoming platform events
// out to the right session, sweeps idle sessions into paused state,
// drives persistence and startup resume, and performs orderly shutdown.
// The Manager's own maps are the only cross-session shared state; they
// are protected by one mutex held only for short critical sections (map
// lookup, add/remove), never across an adapter call.
package sessionmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/threadbridge/threadbridge/internal/bridgeerr"
	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/command"
	"github.com/threadbridge/threadbridge/internal/config"
	"github.com/threadbridge/threadbridge/internal/emoji"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/reactionrouter"
	"github.com/threadbridge/threadbridge/internal/registry"
	"github.com/threadbridge/threadbridge/internal/session"
	"github.com/threadbridge/threadbridge/internal/store"
	"github.com/threadbridge/threadbridge/internal/worktree"
)

// key identifies one thread uniquely across platforms.
type key struct {
	platformID string
	threadID   string
}

func keyOf(platformID, threadID string) key { return key{platformID, threadID} }

// WorktreeFactory builds the worktree Manager for a session's repo root,
// or returns nil when worktree support is disabled for that repo.
type WorktreeFactory func(repoRoot string) worktree.Manager

// Manager owns the sessions, paused records, platforms, session store,
// and post registry.
type Manager struct {
	cfg             config.Config
	log             logsink.Sink
	reg             *registry.Registry
	store           *store.Store
	cmdRegistry     *command.Registry
	childBinary     string
	homeDir         string
	worktreeFactory WorktreeFactory
	childFactory    func() child.ChildProcess
	killRequested   func()
	updateRequested func()

	router *reactionrouter.Router

	mu              sync.Mutex
	platforms       map[string]platform.Adapter
	sessions        map[key]*session.Session
	paused          map[key]store.PersistedSession
	platformEnabled map[string]bool
	shuttingDown    bool

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Options configures a new Manager.
type Options struct {
	Config          config.Config
	Log             logsink.Sink
	Registry        *registry.Registry
	Store           *store.Store
	CommandRegistry *command.Registry
	ChildBinary     string
	HomeDir         string
	WorktreeFactory WorktreeFactory // nil disables worktree support entirely
	// ChildFactory overrides how a session's ChildProcess is constructed,
	// for tests; nil uses child.NewProcess(ChildBinary, Log).
	ChildFactory func() child.ChildProcess
	// KillRequested is invoked by the emergency `!kill` command.
	KillRequested func()
	// UpdateRequested is invoked when a user confirms an update prompt;
	// the supervisor restarts the bridge on the new binary.
	UpdateRequested func()
}

// New creates a Manager. Call RegisterPlatform for each configured
// adapter, then Start.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:             opts.Config,
		log:             opts.Log,
		reg:             opts.Registry,
		store:           opts.Store,
		cmdRegistry:     opts.CommandRegistry,
		childBinary:     opts.ChildBinary,
		homeDir:         opts.HomeDir,
		worktreeFactory: opts.WorktreeFactory,
		childFactory:    opts.ChildFactory,
		killRequested:   opts.KillRequested,
		updateRequested: opts.UpdateRequested,
		platforms:       make(map[string]platform.Adapter),
		sessions:        make(map[key]*session.Session),
		paused:          make(map[key]store.PersistedSession),
		platformEnabled: make(map[string]bool),
	}
	m.router = reactionrouter.New(m.reg, m.lookupHandler)
	return m
}

// RegisterPlatform attaches an adapter the Manager will route events for.
func (m *Manager) RegisterPlatform(a platform.Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[a.ID()] = a
	if _, known := m.platformEnabled[a.ID()]; !known {
		m.platformEnabled[a.ID()] = true
	}
}

func (m *Manager) lookupHandler(sessionID string) (reactionrouter.Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return nil, false
}

// sessionCount reports the number of active sessions under the cap.
func (m *Manager) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start loads persisted sessions, registers resume targets, optionally
// auto-resumes recent ones, and starts the idle-sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	snap, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load persisted sessions: %w", err)
	}
	m.mu.Lock()
	for id, enabled := range snap.PlatformEnabled {
		m.platformEnabled[id] = enabled
	}
	m.mu.Unlock()

	const autoResumeWindow = 5 * time.Minute
	for _, rec := range snap.Sessions {
		k := keyOf(rec.PlatformID, rec.ThreadID)
		m.mu.Lock()
		enabled := m.platformEnabled[rec.PlatformID]
		m.paused[k] = rec
		m.mu.Unlock()
		if rec.SessionStartPostID != "" {
			m.reg.Register(rec.SessionStartPostID, rec.ThreadID, rec.SessionID, registry.RoleSessionHeader, "", nil)
		}
		if !enabled {
			continue
		}
		if rec.LifecycleState == string(session.LifecycleActive) && time.Since(rec.LastActivityAt) < autoResumeWindow {
			if err := m.resumeLocked(ctx, k, rec); err != nil {
				m.log.Warnf("sessionmanager", "auto-resume %s/%s: %v", rec.PlatformID, rec.ThreadID, err)
			}
		}
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})
	go m.sweepLoop(sweepCtx)
	return nil
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)
	interval := time.Duration(m.cfg.Session.IdleSweepIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweepIdle(ctx)
		}
	}
}

// sweepIdle transitions sessions idle longer than sessionTimeoutMs into
// paused, posting exactly one timeout notice each.
func (m *Manager) sweepIdle(ctx context.Context) {
	timeout := time.Duration(m.cfg.Session.SessionTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	candidates := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsInSessionThread() && time.Since(s.LastActivityAt()) > timeout {
			candidates = append(candidates, s)
		}
	}
	m.mu.Unlock()

	for _, s := range candidates {
		adapter, ok := m.adapterFor(s.PlatformID)
		if ok {
			_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, "⏱️ Session timed out")
		}
		s.MarkPaused()
		k := keyOf(s.PlatformID, s.ThreadID)
		m.mu.Lock()
		m.paused[k] = s.Snapshot()
		m.mu.Unlock()
	}
}

func (m *Manager) adapterFor(platformID string) (platform.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.platforms[platformID]
	return a, ok
}

// RouteEvent dispatches one adapter event: message events locate or
// create a session; reaction events go through the post registry and
// reaction router, with a session-header post short-circuiting to
// resume/cancel/interrupt.
func (m *Manager) RouteEvent(ctx context.Context, platformID string, ev platform.Event) {
	m.mu.Lock()
	down := m.shuttingDown
	m.mu.Unlock()
	if down {
		return
	}

	switch ev.Kind {
	case platform.EventMessage:
		if ev.Post != nil {
			m.routeMessage(ctx, platformID, *ev.Post)
		}
	case platform.EventReaction:
		if ev.Reaction != nil {
			m.routeReaction(ctx, platformID, *ev.Reaction)
		}
	case platform.EventDisconnected:
		m.log.Warnf("sessionmanager", "%s: disconnected", platformID)
	case platform.EventReconnecting:
		m.log.Infof("sessionmanager", "%s: reconnecting (attempt %d)", platformID, ev.Attempt)
	case platform.EventError:
		m.log.Warnf("sessionmanager", "%s: adapter error: %v", platformID, ev.Err)
	}
}

func (m *Manager) routeMessage(ctx context.Context, platformID string, post platform.Post) {
	adapter, ok := m.adapterFor(platformID)
	if !ok {
		return
	}
	threadID := post.RootID
	isFirstMessage := threadID == ""
	if isFirstMessage {
		threadID = post.ID
	}

	k := keyOf(platformID, threadID)
	m.mu.Lock()
	s, active := m.sessions[k]
	m.mu.Unlock()

	if active {
		text := adapter.ExtractPrompt(post)
		if command.IsCommand(text) {
			m.dispatchInSession(ctx, s, text, post.UserID)
			return
		}
		if !s.IsAuthorized(ctx, post.UserID) {
			if s.HandleFollowUpText(text) {
				return // resolved a pending interaction via typed text
			}
			if err := s.RequestMessageApproval(ctx, post.UserID, text); err != nil {
				m.log.Warnf("sessionmanager", "%s/%s: message approval: %v", platformID, threadID, err)
			}
			return
		}
		if err := s.SendFollowUp(ctx, text, nil); err != nil {
			m.log.Warnf("sessionmanager", "%s/%s: follow-up: %v", platformID, threadID, err)
		}
		return
	}

	if _, paused := m.pausedRecord(k); paused {
		return // a paused session only resumes via its header reaction
	}

	if !isFirstMessage && !adapter.MentionsBot(post) {
		return
	}
	text := adapter.ExtractPrompt(post)
	result := command.Result{}
	if command.IsCommand(text) {
		dispatcher := command.NewDispatcher(m.cmdRegistry)
		gate := dispatcher.Dispatch(text, command.ContextFirstMessage, post.UserID)
		if !gate.Handled {
			return // the named command doesn't work in first-message context
		}
		var ok bool
		result, text, ok = m.firstMessageCommandEffect(ctx, adapter, post.ChannelID, threadID, text)
		if !ok {
			return
		}
	}

	// A session starting mid-thread is offered the prior history.
	var history []string
	if !isFirstMessage {
		if posts, err := adapter.ThreadHistory(ctx, threadID, 50, true); err == nil {
			for _, p := range posts {
				if p.ID == post.ID {
					continue
				}
				history = append(history, fmt.Sprintf("@%s: %s", p.UserID, p.Message))
			}
		}
	}

	if err := m.startSession(ctx, platformID, threadID, post.ChannelID, post.UserID, text, history, result); err != nil {
		m.log.Warnf("sessionmanager", "%s/%s: start session: %v", platformID, threadID, err)
	}
}

// firstMessageCommandEffect implements the effect of a `!cmd` prefix on a
// thread's opening message. It returns the remaining text to use as the
// prompt and whether a session should still be started afterwards.
func (m *Manager) firstMessageCommandEffect(ctx context.Context, adapter platform.Adapter, channelID, threadID, text string) (command.Result, string, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "!")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return command.Result{}, "", false
	}
	remainder := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))

	switch fields[0] {
	case "help":
		_, _ = adapter.CreatePost(ctx, channelID, threadID, m.cmdRegistry.HelpText())
		return command.Result{}, "", false
	case "release-notes":
		_, _ = adapter.CreatePost(ctx, channelID, threadID, "See the project release notes for what's new.")
		return command.Result{}, "", false
	case "cd":
		parts := strings.SplitN(remainder, " ", 2)
		if len(parts) == 0 || parts[0] == "" {
			return command.Result{}, "", false
		}
		prompt := ""
		if len(parts) > 1 {
			prompt = parts[1]
		}
		return command.Result{Handled: true, SessionOptions: map[string]string{"workingDir": parts[0]}}, prompt, true
	case "permissions":
		return command.Result{Handled: true, SessionOptions: map[string]string{"permissionsMode": remainder}}, "", false
	case "worktree":
		parts := strings.SplitN(remainder, " ", 2)
		branch := ""
		prompt := remainder
		if len(parts) > 0 && parts[0] != "" && parts[0] != "list" && parts[0] != "off" {
			branch = parts[0]
			if len(parts) > 1 {
				prompt = parts[1]
			} else {
				prompt = ""
			}
		}
		return command.Result{Handled: true, WorktreeBranch: branch}, prompt, true
	case "update":
		_, _ = adapter.CreatePost(ctx, channelID, threadID, "Checking for updates…")
		return command.Result{}, "", false
	default:
		return command.Result{}, "", false
	}
}

func (m *Manager) pausedRecord(k key) (store.PersistedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.paused[k]
	return rec, ok
}

func (m *Manager) dispatchInSession(ctx context.Context, s *session.Session, text, userID string) {
	dispatcher := command.NewDispatcher(m.cmdRegistry)
	result := dispatcher.Dispatch(text, command.ContextInSession, userID)
	if !result.Handled {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "!"))
	if len(fields) == 0 {
		return
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "!")
	remainder := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))

	switch fields[0] {
	case "stop":
		if s.IsAuthorized(ctx, userID) {
			_ = s.Cancel(ctx)
			m.dropSession(s.PlatformID, s.ThreadID)
		}
	case "escape":
		_ = s.Interrupt(ctx)
	case "approve":
		if s.IsAuthorized(ctx, userID) {
			s.ApprovePlan(ctx, userID)
		}
	case "invite":
		if len(fields) > 1 && s.IsAuthorized(ctx, userID) {
			s.InviteUser(strings.TrimPrefix(fields[1], "@"))
		}
	case "kick":
		if len(fields) > 1 && s.IsAuthorized(ctx, userID) {
			s.KickUser(strings.TrimPrefix(fields[1], "@"))
		}
	case "cd":
		if len(fields) > 1 && s.IsAuthorized(ctx, userID) {
			_ = s.ChangeDirectory(ctx, fields[1])
		}
	case "permissions":
		// In-session changes only ever downgrade.
		if remainder == "interactive" && s.IsAuthorized(ctx, userID) {
			s.SetForceInteractive()
		}
	case "worktree":
		m.worktreeInSession(ctx, s, fields[1:], userID)
	case "kill":
		if s.IsAuthorized(ctx, userID) && m.killRequested != nil {
			m.killRequested()
		}
	case "bug":
		if err := s.OpenBugReport(ctx, remainder); err != nil {
			m.log.Warnf("sessionmanager", "open bug report: %v", err)
		}
	case "plugin":
		if len(fields) > 1 && (fields[1] == "install" || fields[1] == "uninstall") && s.IsAuthorized(ctx, userID) {
			_ = s.RestartChild(ctx)
		}
	case "context", "cost", "compact":
		_ = s.SendFollowUp(ctx, "/"+fields[0], nil)
	}
}

// worktreeInSession handles the mid-session `!worktree` subcommands.
func (m *Manager) worktreeInSession(ctx context.Context, s *session.Session, args []string, userID string) {
	adapter, ok := m.adapterFor(s.PlatformID)
	if !ok || len(args) == 0 {
		return
	}
	switch args[0] {
	case "list":
		wt := m.worktreeFactoryFor(s)
		if wt == nil {
			_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, "Worktree support is disabled.")
			return
		}
		infos, err := wt.List()
		if err != nil {
			_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("Could not list worktrees: %v", err))
			return
		}
		if len(infos) == 0 {
			_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, "No worktrees.")
			return
		}
		var b strings.Builder
		for _, info := range infos {
			fmt.Fprintf(&b, "🌿 %s (%s)\n", info.Name(), info.Branch)
		}
		_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, strings.TrimRight(b.String(), "\n"))
	case "remove", "cleanup":
		if len(args) > 1 && s.IsAuthorized(ctx, userID) {
			wt := m.worktreeFactoryFor(s)
			if wt == nil {
				return
			}
			if err := wt.Cleanup(ctx, args[1], s.ID); err != nil {
				_, _ = adapter.CreatePost(ctx, s.ChannelID, s.ThreadID, fmt.Sprintf("Could not remove %s: %v", args[1], err))
			}
		}
	default:
		// A bare branch name creates (or joins) that worktree.
		if s.IsAuthorized(ctx, userID) {
			s.StartWorktree(ctx, args[0])
		}
	}
}

func (m *Manager) worktreeFactoryFor(s *session.Session) worktree.Manager {
	if m.worktreeFactory == nil {
		return nil
	}
	rec := s.Snapshot()
	root := rec.WorkingDir
	if rec.WorktreeInfo != nil {
		root = rec.WorktreeInfo.RepoRoot
	}
	return m.worktreeFactory(root)
}

func (m *Manager) routeReaction(ctx context.Context, platformID string, r platform.Reaction) {
	rec, ok := m.reg.Get(r.PostID)
	if !ok {
		return
	}
	if rec.Role == registry.RoleSessionHeader {
		if m.handleHeaderReaction(ctx, platformID, rec, r) {
			return
		}
	}
	if _, err := m.router.Route(r.PostID, r.UserID, r.EmojiName); err != nil {
		m.log.Warnf("sessionmanager", "route reaction: %v", err)
	}
}

// handleHeaderReaction handles the resume/cancel/interrupt emoji grammar
// on a session's header post, including resuming a session that has no
// live Session object (it was only persisted, e.g. across a restart).
func (m *Manager) handleHeaderReaction(ctx context.Context, platformID string, rec registry.Record, r platform.Reaction) bool {
	cls, ok := emoji.Classify(r.EmojiName)
	if !ok {
		return false
	}
	switch cls {
	case emoji.ClassResume:
		m.resumeBySessionID(ctx, rec.SessionID)
		return true
	case emoji.ClassCancel:
		if s, ok := m.lookupHandler(rec.SessionID); ok {
			if real, ok := s.(*session.Session); ok {
				_ = real.Cancel(ctx)
				m.dropSession(real.PlatformID, real.ThreadID)
			}
		}
		return true
	case emoji.ClassInterrupt:
		if s, ok := m.lookupHandler(rec.SessionID); ok {
			if real, ok := s.(*session.Session); ok {
				_ = real.Interrupt(ctx)
			}
		}
		return true
	}
	return false
}

func (m *Manager) resumeBySessionID(ctx context.Context, sessionID string) {
	m.mu.Lock()
	var found *key
	var rec store.PersistedSession
	for k, r := range m.paused {
		if r.SessionID == sessionID {
			kk := k
			found = &kk
			rec = r
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return
	}
	if err := m.resumeLocked(ctx, *found, rec); err != nil {
		m.log.Warnf("sessionmanager", "resume %s: %v", sessionID, err)
	}
}

func (m *Manager) dropSession(platformID, threadID string) {
	k := keyOf(platformID, threadID)
	m.mu.Lock()
	delete(m.sessions, k)
	m.mu.Unlock()
}

// startSession enforces the concurrency cap and, if under it, constructs
// and starts a fresh Session.
func (m *Manager) startSession(ctx context.Context, platformID, threadID, channelID, userID, prompt string, threadHistory []string, cmdResult command.Result) error {
	adapter, ok := m.adapterFor(platformID)
	if !ok {
		return fmt.Errorf("unknown platform %q", platformID)
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.Session.MaxSessions {
		m.mu.Unlock()
		_, _ = adapter.CreatePost(ctx, channelID, threadID, "🚧 Too busy — too many active sessions, try again shortly.")
		return nil
	}
	m.mu.Unlock()

	workingDir := m.cfg.Session.WorkingDir
	if v, ok := cmdResult.SessionOptions["workingDir"]; ok && v != "" {
		workingDir = v
	}

	s := session.New(platformID, threadID, channelID, m.deps(adapter, workingDir))
	k := keyOf(platformID, threadID)
	m.mu.Lock()
	m.sessions[k] = s
	m.mu.Unlock()

	headerPost, err := adapter.CreateInteractivePost(ctx, channelID, threadID, "🧵 Session started", []string{"pause", "x"})
	if err == nil {
		m.reg.Register(headerPost.ID, threadID, s.ID, registry.RoleSessionHeader, "", nil)
		_ = adapter.PinPost(ctx, headerPost.ID)
		s.SetSessionHeader(headerPost.ID)
	}

	var worktreeBinding *session.WorktreeBinding
	if cmdResult.WorktreeBranch != "" && m.worktreeFactory != nil {
		repoRoot := workingDir
		wt := m.worktreeFactory(repoRoot)
		if err := wt.Create(ctx, cmdResult.WorktreeBranch, s.ID, true); err != nil {
			m.log.Warnf("sessionmanager", "pre-session worktree create: %v", err)
		} else if info, ok := wt.GetByName(wt.ProjectName() + "-" + strings.ReplaceAll(cmdResult.WorktreeBranch, "/", "-")); ok {
			workingDir = info.Path
			worktreeBinding = &session.WorktreeBinding{RepoRoot: repoRoot, Path: info.Path, Branch: cmdResult.WorktreeBranch, IsOwner: true}
			_, _ = adapter.CreatePost(ctx, channelID, threadID, fmt.Sprintf("🌿 Created worktree for %s", cmdResult.WorktreeBranch))
		}
	}

	// With no explicit branch, worktree mode may still demand a pre-session
	// branch pick: always in require mode, and in prompt mode when the repo
	// is dirty or another session already works in it.
	var wtSuggestions []string
	wtRequired := m.cfg.Session.WorktreeMode == config.WorktreeRequire
	if cmdResult.WorktreeBranch == "" && m.worktreeFactory != nil && m.cfg.Session.WorktreeMode != config.WorktreeOff {
		wt := m.worktreeFactory(workingDir)
		dirty := false
		if st, err := wt.Status(); err == nil {
			dirty = st.HasChanges()
		}
		if wtRequired || dirty || m.repoInUse(workingDir, threadID) {
			wtSuggestions = suggestBranches(m.cfg.Worktree.BranchPrefix, prompt)
		}
	}

	opts := session.StartOptions{
		WorkingDir:          workingDir,
		StartedBy:           userID,
		SkipPermissions:     m.cfg.Session.PermissionsMode == config.PermissionsAuto,
		Worktree:            worktreeBinding,
		ThreadHistory:       threadHistory,
		WorktreeSuggestions: wtSuggestions,
		WorktreeRequired:    wtRequired,
	}
	if err := s.Start(ctx, prompt, nil, opts); err != nil {
		m.dropSession(platformID, threadID)
		if bridgeerr.KindOf(err) == bridgeerr.KindSessionFatal {
			_, _ = adapter.CreatePost(ctx, channelID, threadID, fmt.Sprintf("❌ Couldn't start a session here: %v", err))
		}
		return err
	}
	return nil
}

func (m *Manager) resumeLocked(ctx context.Context, k key, rec store.PersistedSession) error {
	adapter, ok := m.adapterFor(rec.PlatformID)
	if !ok {
		return fmt.Errorf("unknown platform %q", rec.PlatformID)
	}
	s := session.New(rec.PlatformID, rec.ThreadID, "", m.deps(adapter, rec.WorkingDir))
	m.mu.Lock()
	m.sessions[k] = s
	delete(m.paused, k)
	m.mu.Unlock()

	if err := s.Resume(ctx, rec); err != nil {
		m.dropSession(rec.PlatformID, rec.ThreadID)
		m.mu.Lock()
		m.paused[k] = rec
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) deps(adapter platform.Adapter, workingDir string) session.Deps {
	var wt worktree.Manager
	if m.worktreeFactory != nil && m.cfg.Session.WorktreeMode != config.WorktreeOff {
		wt = m.worktreeFactory(workingDir)
	}
	binary := m.childBinary
	factory := m.childFactory
	if factory == nil {
		factory = func() child.ChildProcess { return child.NewProcess(binary, m.log) }
	}
	return session.Deps{
		Adapter:         adapter,
		Registry:        m.reg,
		Dispatcher:      command.NewDispatcher(m.cmdRegistry),
		Worktree:        wt,
		ChildFactory:    factory,
		Log:             m.log,
		Config:          m.cfg,
		HomeDir:         m.homeDir,
		Persist:         m.persistCallback,
		Ended:           m.dropSession,
		UpdateRequested: m.updateRequested,
	}
}

// repoInUse reports whether another session (any state short of ended)
// already works in workingDir.
func (m *Manager) repoInUse(workingDir, excludeThreadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, rec := range m.paused {
		if k.threadID == excludeThreadID {
			continue
		}
		if rec.WorkingDir == workingDir && rec.LifecycleState != string(session.LifecycleEnded) {
			return true
		}
	}
	return false
}

// suggestBranches derives up to three branch-name suggestions from the
// opening prompt.
func suggestBranches(prefix, prompt string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		var b strings.Builder
		for _, r := range w {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			words = append(words, b.String())
		}
		if len(words) == 3 {
			break
		}
	}
	if len(words) == 0 {
		words = []string{"session"}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = prefix + name
		if !seen[name] && len(out) < 3 {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(strings.Join(words, "-"))
	add(words[0])
	if len(words) > 1 {
		add(words[0] + "-" + words[1])
	}
	return out
}

// NotifyUpdateAvailable offers the update prompt to every active session.
func (m *Manager) NotifyUpdateAvailable(ctx context.Context, latestVersion string) {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		if err := s.NotifyUpdateAvailable(ctx, latestVersion); err != nil {
			m.log.Warnf("sessionmanager", "update prompt %s/%s: %v", s.PlatformID, s.ThreadID, err)
		}
	}
}

func (m *Manager) persistCallback(rec store.PersistedSession) {
	m.mu.Lock()
	k := keyOf(rec.PlatformID, rec.ThreadID)
	if rec.LifecycleState == string(session.LifecycleEnded) {
		delete(m.paused, k)
	} else {
		m.paused[k] = rec
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if err := m.store.Save(snap); err != nil {
		m.log.Warnf("sessionmanager", "save persistence: %v", err)
	}
}

// snapshotLocked builds the full durable snapshot from live sessions plus
// whatever remains in the paused map (a live session's entry there is
// already its latest persisted view, kept current by persistCallback).
// Caller must hold m.mu.
func (m *Manager) snapshotLocked() store.Snapshot {
	recs := make([]store.PersistedSession, 0, len(m.paused))
	for _, rec := range m.paused {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].PlatformID != recs[j].PlatformID {
			return recs[i].PlatformID < recs[j].PlatformID
		}
		return recs[i].ThreadID < recs[j].ThreadID
	})
	enabled := make(map[string]bool, len(m.platformEnabled))
	for k, v := range m.platformEnabled {
		enabled[k] = v
	}
	return store.Snapshot{Sessions: recs, PlatformEnabled: enabled}
}

// SetPlatformEnabled toggles whether a platform is considered connected
// for resume purposes; a disabled platform's active sessions are paused.
func (m *Manager) SetPlatformEnabled(ctx context.Context, platformID string, enabled bool) {
	m.mu.Lock()
	m.platformEnabled[platformID] = enabled
	var toPause []*session.Session
	if !enabled {
		for k, s := range m.sessions {
			if k.platformID == platformID {
				toPause = append(toPause, s)
			}
		}
	}
	m.mu.Unlock()
	for _, s := range toPause {
		s.MarkPaused()
	}
}

// Shutdown performs the orderly-shutdown sequence: suppress new I/O,
// pause and terminate every active session's child within a bounded
// grace period (fanned out with errgroup), then disconnect every
// adapter.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	platforms := make([]platform.Adapter, 0, len(m.platforms))
	for _, a := range m.platforms {
		platforms = append(platforms, a)
	}
	m.mu.Unlock()

	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}

	grace := time.Duration(m.cfg.Server.ShutdownGraceMs) * time.Millisecond
	if grace <= 0 {
		grace = 10 * time.Second
	}
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	g, gctx := errgroup.WithContext(graceCtx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			adapter, ok := m.adapterFor(s.PlatformID)
			if ok {
				_, _ = adapter.CreatePost(gctx, s.ChannelID, s.ThreadID, "👋 Shutting down; reply with 🔄 on the session header to resume later.")
			}
			s.MarkPaused()
			return s.Cancel(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Warnf("sessionmanager", "shutdown: %v", err)
	}

	for _, a := range platforms {
		if err := a.Disconnect(ctx); err != nil {
			m.log.Warnf("sessionmanager", "disconnect %s: %v", a.ID(), err)
		}
	}
	return nil
}

// ActiveCount returns the number of live sessions, for the admin API.
func (m *Manager) ActiveCount() int { return m.sessionCount() }

// Snapshot returns the current durable snapshot, for the admin API.
func (m *Manager) Snapshot() store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// ForceResume resumes a paused session by (platformID, threadID), for the
// bridgectl operator tool.
func (m *Manager) ForceResume(ctx context.Context, platformID, threadID string) error {
	k := keyOf(platformID, threadID)
	rec, ok := m.pausedRecord(k)
	if !ok {
		return fmt.Errorf("no paused session for %s/%s", platformID, threadID)
	}
	return m.resumeLocked(ctx, k, rec)
}

// ForcePause pauses an active session by (platformID, threadID), for the
// bridgectl operator tool.
func (m *Manager) ForcePause(platformID, threadID string) error {
	k := keyOf(platformID, threadID)
	m.mu.Lock()
	s, ok := m.sessions[k]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active session for %s/%s", platformID, threadID)
	}
	s.MarkPaused()
	return nil
}
