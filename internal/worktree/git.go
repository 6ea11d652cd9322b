// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCLI executes git through the command line. It is the production
// GitExecutor; tests substitute a fake.
type GitCLI struct{}

// NewGitCLI creates a git executor backed by the git binary on PATH.
func NewGitCLI() *GitCLI {
	return &GitCLI{}
}

// WorktreeList returns the repository's worktrees. The --porcelain format
// is the only one that survives paths with spaces.
func (e *GitCLI) WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	args := []string{"worktree", "list", "--porcelain"}
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	output, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(string(output)), nil
}

// Status returns the working-tree status for a path.
func (e *GitCLI) Status(ctx context.Context, path string) (GitStatus, error) {
	output, err := exec.CommandContext(ctx, "git", "-C", path, "status", "--porcelain").Output()
	if err != nil {
		return GitStatus{}, err
	}
	return ParseGitStatus(string(output)), nil
}

// BranchInfo returns the checked-out branch for a path, falling back to
// the short commit for a detached HEAD.
func (e *GitCLI) BranchInfo(ctx context.Context, path string) (BranchInfo, error) {
	output, err := exec.CommandContext(ctx, "git", "-C", path, "branch", "--show-current").Output()
	if err != nil {
		commit, err2 := exec.CommandContext(ctx, "git", "-C", path, "rev-parse", "--short", "HEAD").Output()
		if err2 == nil {
			return BranchInfo{Detached: true, Commit: strings.TrimSpace(string(commit))}, nil
		}
		return BranchInfo{}, err
	}
	name := strings.TrimSpace(string(output))
	if name == "" {
		return BranchInfo{Detached: true}, nil
	}
	return BranchInfo{Name: name}, nil
}

// ParseWorktreeListPorcelain parses `git worktree list --porcelain`
// output: one block per worktree, blocks separated by a blank line, each
// line a "key value" pair (worktree, HEAD, branch) or a bare flag word
// (bare, detached).
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	result := []WorktreeInfo{}

	for _, block := range strings.Split(output, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		var info WorktreeInfo
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "worktree "):
				info.Path = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "HEAD "):
				info.Commit = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				ref := strings.TrimPrefix(line, "branch ")
				info.Branch = strings.TrimPrefix(ref, "refs/heads/")
			case line == "bare":
				info.IsBare = true
			case line == "detached":
				info.Detached = true
			}
		}
		if info.Path != "" {
			result = append(result, info)
		}
	}

	return result
}

// ParseGitStatus parses `git status --porcelain` output. The two leading
// columns are the index and working-tree states; A and R are checked
// before the contains-based M/D checks so combined states like AM or RM
// classify by their first column.
func ParseGitStatus(output string) GitStatus {
	var status GitStatus

	// Leading whitespace is significant in the status columns.
	output = strings.TrimRight(output, " \t\n\r")
	if output == "" {
		status.Clean = true
		return status
	}

	for _, line := range strings.Split(output, "\n") {
		if len(line) < 3 {
			continue
		}
		indicator := line[:2]
		filename := line[3:]

		switch {
		case strings.HasPrefix(indicator, "A"):
			status.Added = append(status.Added, filename)
		case strings.HasPrefix(indicator, "R"):
			status.Renamed = append(status.Renamed, filename)
		case indicator == "??":
			status.Untracked = append(status.Untracked, filename)
		case strings.Contains(indicator, "D"):
			status.Deleted = append(status.Deleted, filename)
		case strings.Contains(indicator, "M"):
			status.Modified = append(status.Modified, filename)
		}
	}

	status.Clean = !status.HasChanges()
	return status
}

// GetAheadBehind counts commits this worktree's HEAD is ahead of and
// behind the default branch. Errors report as (0, 0).
func GetAheadBehind(ctx context.Context, worktreePath, defaultBranch string) (ahead, behind int) {
	// rev-list --left-right --count prints "behind<TAB>ahead" with the
	// default branch on the left.
	cmd := exec.CommandContext(ctx, "git", "-C", worktreePath, "rev-list", "--left-right", "--count", defaultBranch+"...HEAD")
	output, err := cmd.Output()
	if err != nil {
		return 0, 0
	}

	parts := strings.Fields(strings.TrimSpace(string(output)))
	if len(parts) != 2 {
		return 0, 0
	}
	fmt.Sscanf(parts[0], "%d", &behind)
	fmt.Sscanf(parts[1], "%d", &ahead)
	return ahead, behind
}

// IsDirty reports whether the worktree has uncommitted changes.
func IsDirty(ctx context.Context, worktreePath string) bool {
	output, err := exec.CommandContext(ctx, "git", "-C", worktreePath, "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// GetDefaultBranch resolves the default branch: origin/HEAD if it points
// at a branch that exists locally, else main, else master.
func GetDefaultBranch(ctx context.Context, repoDir string) string {
	output, err := exec.CommandContext(ctx, "git", "-C", repoDir, "symbolic-ref", "refs/remotes/origin/HEAD").Output()
	if err == nil {
		ref := strings.TrimSpace(string(output))
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			candidate := parts[len(parts)-1]
			verify := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--verify", candidate)
			if verify.Run() == nil {
				return candidate
			}
			// A stale origin/HEAD; fall through to main/master.
		}
	}

	if exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--verify", "main").Run() == nil {
		return "main"
	}
	if exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--verify", "master").Run() == nil {
		return "master"
	}
	return "main"
}
