// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"path/filepath"
)

// WorktreeInfo contains information about a git worktree, plus
// ownership bookkeeping: the session that created it owns it; sessions
// that join an existing one do not.
type WorktreeInfo struct {
	Path      string
	Commit    string // Current commit SHA (head)
	Branch    string
	Detached  bool
	IsBare    bool
	Dirty     bool // Whether working tree has uncommitted changes
	Ahead     int  // Commits ahead of default branch (main/master)
	Behind    int  // Commits behind default branch (main/master)
	OwnerSessionID string // session that created this worktree, empty if unknown/pre-existing
	JoinedSessionIDs []string // other sessions currently using this worktree
}

// Name returns the directory name of the worktree.
func (w *WorktreeInfo) Name() string {
	return filepath.Base(w.Path)
}

// GitStatus represents the status of a git working directory.
type GitStatus struct {
	Clean     bool
	Modified  []string
	Added     []string
	Deleted   []string
	Renamed   []string
	Untracked []string
}

// HasChanges returns true if there are any changes in the working directory.
func (s *GitStatus) HasChanges() bool {
	if s.Clean {
		return false
	}
	return len(s.Modified) > 0 || len(s.Added) > 0 ||
		len(s.Deleted) > 0 || len(s.Renamed) > 0 ||
		len(s.Untracked) > 0
}

// BranchInfo contains information about the current branch.
type BranchInfo struct {
	Name     string
	Detached bool
	Commit   string
}

// ActivateResult contains the results of a worktree activation.
type ActivateResult struct {
	Worktree WorktreeInfo
	Duration string
}

// GitExecutor is the interface for git operations.
type GitExecutor interface {
	WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error)
	Status(ctx context.Context, path string) (GitStatus, error)
	BranchInfo(ctx context.Context, path string) (BranchInfo, error)
}

// ErrorClass discriminates worktree-creation failure categories, each of
// which feeds a human-readable suggestion into the worktree-failure
// prompt.
type ErrorClass string

const (
	ErrAlreadyCheckedOut ErrorClass = "already-checked-out"
	ErrExists            ErrorClass = "exists"
	ErrPermissionDenied  ErrorClass = "permission-denied"
	ErrNoSpace           ErrorClass = "no-space"
	ErrLock              ErrorClass = "lock"
	ErrInvalidRef        ErrorClass = "invalid-ref"
	ErrGeneric           ErrorClass = "generic"
)

// Suggestion returns the human-readable remediation hint for a class.
func (c ErrorClass) Suggestion() string {
	switch c {
	case ErrAlreadyCheckedOut:
		return "that branch is already checked out elsewhere; pick a different branch name"
	case ErrExists:
		return "a worktree or branch with that name already exists; pick a different branch name"
	case ErrPermissionDenied:
		return "the bridge process lacks permission to write under the worktree root; check directory ownership"
	case ErrNoSpace:
		return "the filesystem backing the worktree root is full"
	case ErrLock:
		return "a concurrent git operation holds the repository lock; retry in a moment"
	case ErrInvalidRef:
		return "that branch name isn't a valid git ref; avoid spaces and leading dashes"
	default:
		return "retry with a different branch name, or contact an operator"
	}
}

// Manager is the interface for worktree management.
type Manager interface {
	List() ([]WorktreeInfo, error)
	Active() *WorktreeInfo
	SetActive(name string) error
	Activate(ctx context.Context, name string) (*ActivateResult, error)
	Create(ctx context.Context, branchName, ownerSessionID string, switchTo bool) error
	Join(ctx context.Context, name, sessionID string) (WorktreeInfo, error)
	Remove(ctx context.Context, name string, deleteBranch bool) error
	Cleanup(ctx context.Context, name, callerSessionID string) error
	Refresh() error
	GetByName(name string) (WorktreeInfo, bool)
	GetByPath(path string) (WorktreeInfo, bool)
	Count() int
	Status() (GitStatus, error)
	ProjectName() string
}
