// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/config"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/platform/memory"
	"github.com/threadbridge/threadbridge/internal/registry"
	"github.com/threadbridge/threadbridge/internal/store"
)

type fakeChild struct {
	events chan child.Event
	sent   []string
	killed bool
}

func newFakeChild() *fakeChild {
	return &fakeChild{events: make(chan child.Event, 16)}
}

func (f *fakeChild) Spawn(ctx context.Context, opts child.SpawnOptions) error { return nil }
func (f *fakeChild) SendMessage(ctx context.Context, blocks []child.ContentBlock) error {
	for _, b := range blocks {
		if b.Type == "text" {
			f.sent = append(f.sent, b.Text)
		}
	}
	return nil
}
func (f *fakeChild) Interrupt(ctx context.Context) error { return nil }
func (f *fakeChild) Kill() error                         { f.killed = true; return nil }
func (f *fakeChild) IsRunning() bool                     { return !f.killed }
func (f *fakeChild) Events() <-chan child.Event          { return f.events }
func (f *fakeChild) RespondToPermission(ctx context.Context, requestID string, approve bool) error {
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Session.TypingIntervalMs = 60_000
	cfg.Session.UpdateDebounceMs = 10
	cfg.Breaker.SoftBreakChars = 2000
	cfg.Breaker.MaxLinesBeforeBreak = 15
	cfg.Breaker.MaxHeightPx = 500
	return cfg
}

func newTestSession(t *testing.T) (*Session, *memory.Adapter, *fakeChild, *registry.Registry) {
	t.Helper()
	adapter := memory.New("test", platform.BotIdentity{ID: "bot", Name: "bot"})
	reg := registry.New()
	fc := newFakeChild()
	var persisted []store.PersistedSession
	s := New("test", "thread1", "chan1", Deps{
		Adapter:      adapter,
		Registry:     reg,
		ChildFactory: func() child.ChildProcess { return fc },
		Log:          logsink.NewStandard(false),
		Config:       testConfig(),
		HomeDir:      "/home/u",
		Persist:      func(rec store.PersistedSession) { persisted = append(persisted, rec) },
	})
	t.Cleanup(func() { _ = s.Cancel(context.Background()) })
	return s, adapter, fc, reg
}

func TestStartSendsContextPrefixedPrompt(t *testing.T) {
	s, _, fc, _ := newTestSession(t)

	err := s.Start(context.Background(), "fix the build", nil, StartOptions{
		WorkingDir:    "/tmp",
		StartedBy:     "u1",
		ContextPrefix: "Earlier in this thread:\n- hello\n\n",
	})
	require.NoError(t, err)
	require.Equal(t, LifecycleActive, s.Lifecycle())
	require.Len(t, fc.sent, 1)
	assert.True(t, strings.HasPrefix(fc.sent[0], "Earlier in this thread:"))
	assert.True(t, strings.HasSuffix(fc.sent[0], "fix the build"))
}

func TestSendFollowUpRequiresActive(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	err := s.SendFollowUp(context.Background(), "more", nil)
	require.Error(t, err)
}

func TestCancelClearsRegistryAndEnds(t *testing.T) {
	s, _, fc, reg := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "hi", nil, StartOptions{WorkingDir: "/tmp", StartedBy: "u1"}))
	reg.Register("p1", s.ThreadID, s.ID, registry.RoleContent, "", nil)
	reg.Register("p2", s.ThreadID, s.ID, registry.RoleLifecycle, "", nil)

	require.NoError(t, s.Cancel(ctx))
	assert.Equal(t, LifecycleEnded, s.Lifecycle())
	assert.True(t, fc.killed)
	assert.Empty(t, reg.ListForSession(s.ID))
}

func TestPlanApprovalRoundTrip(t *testing.T) {
	s, adapter, fc, reg := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "plan something", nil, StartOptions{WorkingDir: "/tmp", StartedBy: "u1"}))
	fc.sent = nil

	// The diverter suppresses the ExitPlanMode block and opens the
	// plan-approval interaction.
	s.handleChildEvent(ctx, child.Event{
		Kind: child.EventAssistant,
		Message: child.Message{
			Role:    "assistant",
			Content: []child.ContentBlock{{Type: "tool_use", Name: "ExitPlanMode", ID: "t1"}},
		},
	})

	var approvalPostID string
	for id, p := range adapter.Posts() {
		if p.Message == "Plan ready for approval" {
			approvalPostID = id
		}
	}
	require.NotEmpty(t, approvalPostID)
	rec, ok := reg.Get(approvalPostID)
	require.True(t, ok)
	assert.Equal(t, s.ID, rec.SessionID)

	require.NoError(t, s.HandleReaction(rec.Role, approvalPostID, "u1", "+1"))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "Approved. Please proceed.", fc.sent[0])

	// A later ExitPlanMode auto-continues without re-prompting.
	fc.sent = nil
	s.handleChildEvent(ctx, child.Event{
		Kind: child.EventAssistant,
		Message: child.Message{
			Role:    "assistant",
			Content: []child.ContentBlock{{Type: "tool_use", Name: "ExitPlanMode", ID: "t2"}},
		},
	})
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "Approved. Please proceed.", fc.sent[0])
}

func TestInviteAndKickUser(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "hi", nil, StartOptions{WorkingDir: "/tmp", StartedBy: "u1"}))

	assert.False(t, s.IsAuthorized(ctx, "u2"))
	s.InviteUser("u2")
	assert.True(t, s.IsAuthorized(ctx, "u2"))
	s.KickUser("u2")
	assert.False(t, s.IsAuthorized(ctx, "u2"))
}

func TestSnapshotRoundTripsThroughResume(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "hi", nil, StartOptions{WorkingDir: "/tmp", StartedBy: "u1"}))

	snap := s.Snapshot()
	assert.Equal(t, "test", snap.PlatformID)
	assert.Equal(t, "thread1", snap.ThreadID)
	assert.Equal(t, "u1", snap.StartedBy)
	assert.Contains(t, snap.AllowedUsers, "u1")
	assert.Equal(t, string(LifecycleActive), snap.LifecycleState)
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestBuildMessageContent(t *testing.T) {
	blocks, err := buildMessageContent("prompt", []Attachment{
		{Name: "pic.png", MimeType: "image/png", Data: []byte{1, 2}},
		{Name: "doc.pdf", MimeType: "application/pdf", Data: []byte{3}},
		{Name: "notes.md", MimeType: "application/octet-stream", Data: []byte("# notes")},
		{Name: "build.log.gz", MimeType: "application/gzip", Data: gzipped(t, "log line")},
		{Name: "blob.bin", MimeType: "application/octet-stream", Data: []byte{9}},
	})
	require.NoError(t, err)

	var types []string
	for _, b := range blocks {
		types = append(types, b.Type)
	}
	// prompt text, image, document, inlined .md, inlined decompressed log,
	// and the single elision note.
	assert.Equal(t, []string{"text", "image", "document", "text", "text", "text"}, types)
	assert.Contains(t, blocks[3].Text, "# notes")
	assert.Contains(t, blocks[4].Text, "log line")
	assert.Contains(t, blocks[5].Text, "blob.bin")
	assert.Contains(t, blocks[5].Text, "skipped")
}

func TestShortenHome(t *testing.T) {
	assert.Equal(t, "~/src/app", shortenHome("/home/u/src/app", "/home/u"))
	assert.Equal(t, "/opt/app", shortenHome("/opt/app", "/home/u"))
	assert.Equal(t, "/opt/app", shortenHome("/opt/app", ""))
}
