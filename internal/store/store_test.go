// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Sessions)
	assert.NotNil(t, snap.PlatformEnabled)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path)

	now := time.Now().UTC().Truncate(time.Second)
	in := Snapshot{
		Sessions: []PersistedSession{{
			PlatformID:         "slack",
			ThreadID:           "C1:1.000",
			SessionID:          "sess-1",
			ChildSessionID:     "child-1",
			WorkingDir:         "/home/u/src/app",
			WorktreeInfo:       &WorktreeInfo{RepoRoot: "/home/u/src/app", Path: "/tmp/wt", Branch: "feature-x", IsOwner: true},
			StartedBy:          "u1",
			AllowedUsers:       []string{"u1", "u2"},
			StartedAt:          now,
			LastActivityAt:     now,
			PlanApproved:       true,
			MessageCount:       3,
			SessionStartPostID: "p-header",
			LifecycleState:     "paused",
		}},
		PlatformEnabled: map[string]bool{"slack": true, "mattermost": false},
	}
	require.NoError(t, s.Save(in))

	out, err := s.Load()
	require.NoError(t, err)
	require.Len(t, out.Sessions, 1)
	assert.Equal(t, in.Sessions[0], out.Sessions[0])
	assert.Equal(t, in.PlatformEnabled, out.PlatformEnabled)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "sessions.json"))
	require.NoError(t, s.Save(Snapshot{PlatformEnabled: map[string]bool{}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sessions.json", entries[0].Name())
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	s := New("")
	require.NoError(t, s.Save(Snapshot{Sessions: []PersistedSession{{SessionID: "x"}}}))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Sessions)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := New(path).Load()
	require.Error(t, err)
}
