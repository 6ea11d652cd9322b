// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package worktree implements the git worktree helper: creation,
// joining, ownership tracking, and cleanup of the git worktrees used to
// isolate a session's child process in its own checkout.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/threadbridge/threadbridge/internal/config"
	"github.com/threadbridge/threadbridge/internal/events"
)

// WorktreeManager manages git worktrees for the bridge's session engine.
type WorktreeManager struct {
	mu         sync.RWMutex
	activateMu sync.Mutex // Serializes Activate operations
	git        GitExecutor
	bus        events.EventBus
	cfg        config.WorktreeConfig
	repoDir    string // Directory to run git commands in (discovery)
	createDir  string // Directory where new worktrees are created
	worktrees  []WorktreeInfo
	active     *WorktreeInfo
	projectName string
}

// NewManager creates a new worktree manager.
// repoDir is the directory to run git commands in (for worktree discovery).
// createDir is the directory where new worktrees are created; it defaults
// to cfg.Root when set.
func NewManager(git GitExecutor, bus events.EventBus, cfg config.WorktreeConfig, repoDir, createDir, projectName string) *WorktreeManager {
	if createDir == "" {
		createDir = cfg.Root
	}
	mgr := &WorktreeManager{
		git:         git,
		bus:         bus,
		cfg:         cfg,
		repoDir:     repoDir,
		createDir:   createDir,
		projectName: projectName,
	}
	mgr.Refresh()
	return mgr
}

// List returns all known worktrees.
func (m *WorktreeManager) List() ([]WorktreeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]WorktreeInfo, len(m.worktrees))
	copy(result, m.worktrees)
	return result, nil
}

// Active returns the currently active worktree.
func (m *WorktreeManager) Active() *WorktreeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil
	}
	active := *m.active
	return &active
}

// SetActive sets the active worktree without running a full activation.
// Use this for initial startup; use Activate for mid-session switches.
func (m *WorktreeManager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.find(name)
	if target == nil {
		return fmt.Errorf("worktree %q not found", name)
	}
	m.active = target
	return nil
}

func (m *WorktreeManager) find(name string) *WorktreeInfo {
	for i := range m.worktrees {
		if m.worktrees[i].Name() == name || m.worktrees[i].Branch == name {
			return &m.worktrees[i]
		}
	}
	return nil
}

// Activate sets the active worktree by name.
func (m *WorktreeManager) Activate(ctx context.Context, name string) (*ActivateResult, error) {
	m.activateMu.Lock()
	defer m.activateMu.Unlock()
	start := time.Now()

	m.mu.Lock()
	target := m.find(name)
	if target == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("worktree %q not found", name)
	}
	m.active = target
	activated := *target
	m.mu.Unlock()

	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.Event{
			Type:     events.EventWorktreeActivated,
			Scope:    activated.Name(),
			Payload: map[string]interface{}{
				"name":   activated.Name(),
				"path":   activated.Path,
				"branch": activated.Branch,
			},
		})
	}

	return &ActivateResult{Worktree: activated, Duration: time.Since(start).String()}, nil
}

// Refresh reloads the worktree list from git.
func (m *WorktreeManager) Refresh() error {
	ctx := context.Background()
	worktrees, err := m.git.WorktreeList(ctx, m.repoDir)
	if err != nil {
		return err
	}

	defaultBranch := GetDefaultBranch(ctx, m.repoDir)
	for i := range worktrees {
		wt := &worktrees[i]
		if wt.IsBare {
			continue
		}
		wt.Dirty = IsDirty(ctx, wt.Path)
		if !wt.Detached && wt.Branch != "" && wt.Branch != defaultBranch {
			wt.Ahead, wt.Behind = GetAheadBehind(ctx, wt.Path, defaultBranch)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Preserve ownership bookkeeping across a refresh.
	prevOwners := make(map[string]string, len(m.worktrees))
	prevJoined := make(map[string][]string, len(m.worktrees))
	for _, wt := range m.worktrees {
		prevOwners[wt.Path] = wt.OwnerSessionID
		prevJoined[wt.Path] = wt.JoinedSessionIDs
	}
	for i := range worktrees {
		if owner, ok := prevOwners[worktrees[i].Path]; ok {
			worktrees[i].OwnerSessionID = owner
			worktrees[i].JoinedSessionIDs = prevJoined[worktrees[i].Path]
		}
	}
	m.worktrees = worktrees

	if m.active != nil {
		found := false
		for i := range worktrees {
			if worktrees[i].Path == m.active.Path {
				m.active = &worktrees[i]
				found = true
				break
			}
		}
		if !found {
			m.active = nil
		}
	}
	return nil
}

// GetByName returns a worktree by name. Accepts a directory name, a branch
// name, "main" for the main worktree, or a project-prefix-less name.
func (m *WorktreeManager) GetByName(name string) (WorktreeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "main" {
		for _, wt := range m.worktrees {
			if wt.Name() == m.projectName {
				return wt, true
			}
		}
	}
	for _, wt := range m.worktrees {
		if wt.Name() == name || wt.Branch == name {
			return wt, true
		}
	}
	if m.projectName != "" {
		fullName := m.projectName + "-" + name
		for _, wt := range m.worktrees {
			if wt.Name() == fullName {
				return wt, true
			}
		}
	}
	return WorktreeInfo{}, false
}

// GetByPath returns a worktree by its path.
func (m *WorktreeManager) GetByPath(path string) (WorktreeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wt := range m.worktrees {
		if wt.Path == path {
			return wt, true
		}
	}
	return WorktreeInfo{}, false
}

// Count returns the number of worktrees.
func (m *WorktreeManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.worktrees)
}

// Status returns the git status of the active worktree.
func (m *WorktreeManager) Status() (GitStatus, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == nil {
		return GitStatus{}, fmt.Errorf("no active worktree")
	}
	return m.git.Status(context.Background(), active.Path)
}

// ProjectName returns the project name used to prefix new worktree
// directories.
func (m *WorktreeManager) ProjectName() string {
	return m.projectName
}

// ClassifyCreateError maps a git worktree-add failure's combined output to
// an ErrorClass.
func ClassifyCreateError(output string, err error) ErrorClass {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "already checked out"):
		return ErrAlreadyCheckedOut
	case strings.Contains(lower, "already exists"):
		return ErrExists
	case strings.Contains(lower, "permission denied"):
		return ErrPermissionDenied
	case strings.Contains(lower, "no space left"):
		return ErrNoSpace
	case strings.Contains(lower, "unable to create") && strings.Contains(lower, "lock"):
		return ErrLock
	case strings.Contains(lower, "index.lock"):
		return ErrLock
	case strings.Contains(lower, "not a valid") || strings.Contains(lower, "invalid ref"):
		return ErrInvalidRef
	default:
		return ErrGeneric
	}
}

// Create creates a new worktree with the given branch name, owned by
// ownerSessionID (per the ownership rule: the session that creates a
// worktree owns it).
func (m *WorktreeManager) Create(ctx context.Context, branchName, ownerSessionID string, switchTo bool) error {
	if branchName == "" {
		return fmt.Errorf("branch name is required")
	}

	sanitizedBranch := strings.ReplaceAll(branchName, "/", "-")
	if sanitizedBranch != branchName {
		checkConflict := exec.CommandContext(ctx, "git", "-C", m.repoDir, "rev-parse", "--verify", sanitizedBranch)
		if checkConflict.Run() == nil {
			return fmt.Errorf("branch name %q would create a directory conflicting with existing branch %q", branchName, sanitizedBranch)
		}
	}

	worktreeName := m.projectName + "-" + sanitizedBranch
	worktreePath := filepath.Join(m.createDir, worktreeName)

	if _, err := os.Stat(worktreePath); err == nil {
		return &CreateError{Class: ErrExists, Branch: branchName, Err: fmt.Errorf("worktree directory already exists: %s", worktreePath)}
	}

	checkBranch := exec.CommandContext(ctx, "git", "-C", m.repoDir, "rev-parse", "--verify", branchName)
	if err := checkBranch.Run(); err == nil {
		return &CreateError{Class: ErrExists, Branch: branchName, Err: fmt.Errorf("branch %q already exists", branchName)}
	}

	if err := os.MkdirAll(m.createDir, 0755); err != nil {
		return &CreateError{Class: ErrPermissionDenied, Branch: branchName, Err: err}
	}

	cmd := exec.CommandContext(ctx, "git", "-C", m.repoDir, "worktree", "add", "-b", branchName, worktreePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CreateError{Class: ClassifyCreateError(string(output), err), Branch: branchName, Err: fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)}
	}

	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.Event{
			Type:     events.EventWorktreeCreated,
			Scope:    worktreeName,
			Payload: map[string]interface{}{
				"name":    worktreeName,
				"path":    worktreePath,
				"branch":  branchName,
				"session": ownerSessionID,
			},
		})
	}

	if err := m.Refresh(); err != nil {
		return fmt.Errorf("failed to refresh worktree list: %w", err)
	}

	m.mu.Lock()
	if wt := m.find(worktreeName); wt != nil {
		wt.OwnerSessionID = ownerSessionID
	}
	m.mu.Unlock()

	if switchTo {
		if _, err := m.Activate(ctx, worktreeName); err != nil {
			return fmt.Errorf("worktree created but failed to activate: %w", err)
		}
	}
	return nil
}

// Join marks sessionID as a non-owning user of an existing worktree.
func (m *WorktreeManager) Join(ctx context.Context, name, sessionID string) (WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt := m.find(name)
	if wt == nil {
		return WorktreeInfo{}, fmt.Errorf("worktree %q not found", name)
	}
	for _, s := range wt.JoinedSessionIDs {
		if s == sessionID {
			return *wt, nil
		}
	}
	wt.JoinedSessionIDs = append(wt.JoinedSessionIDs, sessionID)
	return *wt, nil
}

// Cleanup deletes a worktree's git checkout, but only when callerSessionID
// is the worktree's owner, no other session is joined to it, and its path
// lies under the centralised worktree root.
func (m *WorktreeManager) Cleanup(ctx context.Context, name, callerSessionID string) error {
	wt, found := m.GetByName(name)
	if !found {
		return fmt.Errorf("worktree %q not found", name)
	}
	if wt.OwnerSessionID != callerSessionID {
		return fmt.Errorf("only the owning session may clean up worktree %q", name)
	}
	if len(wt.JoinedSessionIDs) > 0 {
		return fmt.Errorf("worktree %q is still in use by %d other session(s)", name, len(wt.JoinedSessionIDs))
	}
	root := m.createDir
	if root != "" {
		rel, err := filepath.Rel(root, wt.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("worktree %q is not under the managed worktree root; refusing to delete", name)
		}
	}
	return m.Remove(ctx, name, true)
}

// Remove removes a worktree and optionally deletes the branch.
func (m *WorktreeManager) Remove(ctx context.Context, name string, deleteBranch bool) error {
	wt, found := m.GetByName(name)
	if !found {
		return fmt.Errorf("worktree %q not found", name)
	}
	if active := m.Active(); active != nil && active.Path == wt.Path {
		return fmt.Errorf("cannot remove the active worktree")
	}
	if wt.Path == m.repoDir {
		return fmt.Errorf("cannot remove the main repository")
	}

	cmd := exec.CommandContext(ctx, "git", "-C", m.repoDir, "worktree", "remove", "--force", wt.Path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to remove worktree: %s: %w", string(output), err)
	}

	if deleteBranch && wt.Branch != "" && wt.Branch != "main" && wt.Branch != "master" {
		deleteBranchCmd := exec.CommandContext(ctx, "git", "-C", m.repoDir, "branch", "-D", wt.Branch)
		_ = deleteBranchCmd.Run()
	}

	if m.bus != nil {
		_ = m.bus.Publish(ctx, events.Event{
			Type:     events.EventWorktreeDeleted,
			Scope:    name,
			Payload: map[string]interface{}{
				"name":          name,
				"path":          wt.Path,
				"branch":        wt.Branch,
				"branchDeleted": deleteBranch,
			},
		})
	}
	return m.Refresh()
}

// CreateError wraps a failed worktree Create with its classified category
// and the branch that failed, for InteractionEngine.StartWorktreeFailure.
type CreateError struct {
	Class  ErrorClass
	Branch string
	Err    error
}

func (e *CreateError) Error() string { return e.Err.Error() }
func (e *CreateError) Unwrap() error { return e.Err }
