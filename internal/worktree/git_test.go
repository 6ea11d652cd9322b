// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorktreeListPorcelain(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected []WorktreeInfo
	}{
		{
			name:     "empty",
			output:   "",
			expected: []WorktreeInfo{},
		},
		{
			name: "single worktree",
			output: "worktree /home/u/src/app\n" +
				"HEAD abc1234def\n" +
				"branch refs/heads/main\n",
			expected: []WorktreeInfo{
				{Path: "/home/u/src/app", Commit: "abc1234def", Branch: "main"},
			},
		},
		{
			name: "multiple worktrees with spaces in a path",
			output: "worktree /home/u/src/app\n" +
				"HEAD abc1234\n" +
				"branch refs/heads/main\n" +
				"\n" +
				"worktree /home/u/work trees/app--feature-x\n" +
				"HEAD def5678\n" +
				"branch refs/heads/feature-x\n",
			expected: []WorktreeInfo{
				{Path: "/home/u/src/app", Commit: "abc1234", Branch: "main"},
				{Path: "/home/u/work trees/app--feature-x", Commit: "def5678", Branch: "feature-x"},
			},
		},
		{
			name: "bare and detached",
			output: "worktree /home/u/src/app.git\n" +
				"bare\n" +
				"\n" +
				"worktree /home/u/src/detached\n" +
				"HEAD abc1234\n" +
				"detached\n",
			expected: []WorktreeInfo{
				{Path: "/home/u/src/app.git", IsBare: true},
				{Path: "/home/u/src/detached", Commit: "abc1234", Detached: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseWorktreeListPorcelain(tt.output))
		})
	}
}

func TestParseGitStatus(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected GitStatus
	}{
		{
			name:     "clean",
			output:   "",
			expected: GitStatus{Clean: true},
		},
		{
			name:   "modified files",
			output: " M file1.go\n M file2.go\n",
			expected: GitStatus{
				Modified: []string{"file1.go", "file2.go"},
			},
		},
		{
			name:   "added files",
			output: "A  newfile.go\n",
			expected: GitStatus{
				Added: []string{"newfile.go"},
			},
		},
		{
			name:   "added then modified classifies as added",
			output: "AM newfile.go\n",
			expected: GitStatus{
				Added: []string{"newfile.go"},
			},
		},
		{
			name:   "renamed file",
			output: "R  old.go -> new.go\n",
			expected: GitStatus{
				Renamed: []string{"old.go -> new.go"},
			},
		},
		{
			name:   "mixed status",
			output: " M modified.go\nA  added.go\n D deleted.go\n?? untracked.go\n",
			expected: GitStatus{
				Modified:  []string{"modified.go"},
				Added:     []string{"added.go"},
				Deleted:   []string{"deleted.go"},
				Untracked: []string{"untracked.go"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseGitStatus(tt.output))
		})
	}
}

func TestWorktreeInfo_Name(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/home/u/project", "project"},
		{"/home/u/worktrees/app--feature-x", "app--feature-x"},
		{"/project", "project"},
		{".", "."},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			info := WorktreeInfo{Path: tt.path}
			assert.Equal(t, tt.expected, info.Name())
		})
	}
}

func TestGitStatus_HasChanges(t *testing.T) {
	tests := []struct {
		name     string
		status   GitStatus
		expected bool
	}{
		{"clean", GitStatus{Clean: true}, false},
		{"modified", GitStatus{Modified: []string{"a.go"}}, true},
		{"added", GitStatus{Added: []string{"a.go"}}, true},
		{"deleted", GitStatus{Deleted: []string{"a.go"}}, true},
		{"untracked", GitStatus{Untracked: []string{"a.go"}}, true},
		{"empty slices", GitStatus{Modified: []string{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.HasChanges())
		})
	}
}

// MockGitExecutor is the GitExecutor double shared with the manager
// tests.
type MockGitExecutor struct {
	worktrees []WorktreeInfo
	status    GitStatus
	branch    BranchInfo
	err       error
}

func (m *MockGitExecutor) WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	// Copy, so concurrent callers never share a slice.
	result := make([]WorktreeInfo, len(m.worktrees))
	copy(result, m.worktrees)
	return result, nil
}

func (m *MockGitExecutor) Status(ctx context.Context, path string) (GitStatus, error) {
	if m.err != nil {
		return GitStatus{}, m.err
	}
	return m.status, nil
}

func (m *MockGitExecutor) BranchInfo(ctx context.Context, path string) (BranchInfo, error) {
	if m.err != nil {
		return BranchInfo{}, m.err
	}
	return m.branch, nil
}

var _ GitExecutor = (*MockGitExecutor)(nil)

func TestGitCLI_WorktreeList_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	exec := NewGitCLI()
	worktrees, err := exec.WorktreeList(context.Background(), "")
	if err != nil {
		t.Skip("not in a git repository")
	}

	require.GreaterOrEqual(t, len(worktrees), 1)
	assert.NotEmpty(t, worktrees[0].Path)
}

func TestGitCLI_BranchInfo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	exec := NewGitCLI()
	info, err := exec.BranchInfo(context.Background(), ".")
	if err != nil {
		t.Skip("not in a git repository")
	}
	if !info.Detached {
		assert.NotEmpty(t, info.Name)
	}
}
