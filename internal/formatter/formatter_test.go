// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadbridge/threadbridge/internal/breaker"
	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/platform/memory"
	"github.com/threadbridge/threadbridge/internal/registry"
)

type noopDiverter struct{ diverted []string }

func (d *noopDiverter) Divert(ctx context.Context, sessionID string, block child.ContentBlock) bool {
	if block.Name == "ExitPlanMode" || block.Name == "AskUserQuestion" {
		d.diverted = append(d.diverted, block.Name)
		return true
	}
	return false
}

func (d *noopDiverter) SideChannel(ctx context.Context, sessionID string, block child.ContentBlock) {}

func (d *noopDiverter) CompleteSubagent(ctx context.Context, sessionID, toolUseID string, isError bool) {}

func newTestFormatter() (*Formatter, *memory.Adapter, *registry.Registry) {
	adapter := memory.New("test", platform.BotIdentity{ID: "bot", Name: "bot"})
	reg := registry.New()
	limits := Limits{
		Limits: breaker.Limits{MaxHeightPx: 500, SoftBreakChars: 2000, MaxLinesBeforeBreak: 15},
		UpdateDebounceMs: 500,
	}
	f := New("session-1", "thread-1", "chan-1", adapter, reg, limits, logsink.NewStandard(false), &noopDiverter{}, "/home/u", "")
	return f, adapter, reg
}

func TestFormatter_AssistantTextCreatesPost(t *testing.T) {
	f, adapter, reg := newTestFormatter()
	ctx := context.Background()

	err := f.HandleEvent(ctx, child.Event{
		Kind: child.EventAssistant,
		Message: child.Message{
			Content: []child.ContentBlock{{Type: "text", Text: "hello world"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.flush(ctx, false))

	postID := f.CurrentPostID()
	require.NotEmpty(t, postID)
	p, err := adapter.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", p.Message)

	rec, ok := reg.Get(postID)
	require.True(t, ok)
	assert.Equal(t, "session-1", rec.SessionID)
}

func TestFormatter_DivertedToolUseSuppressesEvent(t *testing.T) {
	f, _, _ := newTestFormatter()
	ctx := context.Background()
	d := f.diverter.(*noopDiverter)

	err := f.HandleEvent(ctx, child.Event{
		Kind: child.EventAssistant,
		Message: child.Message{
			Content: []child.ContentBlock{{Type: "tool_use", Name: "ExitPlanMode"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, d.diverted, "ExitPlanMode")
	assert.Empty(t, f.pendingBuf.String())
}

func TestFormatter_FormatToolUse_Read(t *testing.T) {
	f, _, _ := newTestFormatter()
	input, _ := json.Marshal(map[string]string{"file_path": "/home/u/project/main.go"})
	out := f.formatToolUse(child.ContentBlock{Type: "tool_use", Name: "Read", Input: input})
	assert.Equal(t, "📄 ~/project/main.go", out)
}

func TestFormatter_FormatToolUse_MCP(t *testing.T) {
	f, _, _ := newTestFormatter()
	out := f.formatToolUse(child.ContentBlock{Type: "tool_use", Name: "mcp__github__create_issue"})
	assert.Equal(t, "🔌 create_issue (github)", out)
}

func TestFormatter_FormatToolUse_Unknown(t *testing.T) {
	f, _, _ := newTestFormatter()
	out := f.formatToolUse(child.ContentBlock{Type: "tool_use", Name: "SomeCustomTool"})
	assert.Equal(t, "● SomeCustomTool", out)
}

func TestFormatter_ResultFlushesAndClearsCurrentPost(t *testing.T) {
	f, _, _ := newTestFormatter()
	ctx := context.Background()

	require.NoError(t, f.HandleEvent(ctx, child.Event{
		Kind:    child.EventAssistant,
		Message: child.Message{Content: []child.ContentBlock{{Type: "text", Text: "work done"}}},
	}))
	require.NoError(t, f.HandleEvent(ctx, child.Event{Kind: child.EventResult}))

	assert.Empty(t, f.CurrentPostID())
}

var postFenceRe = regexp.MustCompile("(?m)^```")

func TestFormatter_StreamingSplitKeepsCodeBlocksClosed(t *testing.T) {
	f, adapter, _ := newTestFormatter()
	ctx := context.Background()

	// One large assistant turn: three headings, two code blocks, ~12k chars.
	var b strings.Builder
	filler := strings.Repeat("lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 10)
	for section := 0; section < 3; section++ {
		fmt.Fprintf(&b, "## Section %d\n\n%s\n\n%s\n\n", section, filler, filler)
		if section < 2 {
			b.WriteString("```go\n")
			for i := 0; i < 12; i++ {
				fmt.Fprintf(&b, "func generated%d_%d() { return }\n", section, i)
			}
			b.WriteString("```\n\n")
			b.WriteString(filler + "\n\n")
		}
	}
	text := b.String()
	require.Greater(t, len(text), 2000)

	require.NoError(t, f.HandleEvent(ctx, child.Event{
		Kind:    child.EventAssistant,
		Message: child.Message{Content: []child.ContentBlock{{Type: "text", Text: text}}},
	}))
	require.NoError(t, f.HandleEvent(ctx, child.Event{Kind: child.EventResult}))

	posts := adapter.Posts()
	require.GreaterOrEqual(t, len(posts), 2)
	for _, p := range posts {
		fences := len(postFenceRe.FindAllString(p.Message, -1))
		assert.Zerof(t, fences%2, "post has an unclosed code block:\n%s", p.Message)
		assert.Lessf(t, breaker.EstimateRenderedHeight(p.Message), 500, "post too tall:\n%s", p.Message)
	}
}

func TestFormatter_ForceClosesUnclosedFenceAndReopens(t *testing.T) {
	f, adapter, _ := newTestFormatter()
	ctx := context.Background()

	// A code block that trips the line threshold with no closing fence in
	// sight: the flush must force-close it.
	var b strings.Builder
	b.WriteString("```go\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "line%d()\n", i)
	}
	require.NoError(t, f.HandleEvent(ctx, child.Event{
		Kind:    child.EventAssistant,
		Message: child.Message{Content: []child.ContentBlock{{Type: "text", Text: b.String()}}},
	}))

	firstID := f.CurrentPostID()
	require.NotEmpty(t, firstID)
	first, err := adapter.GetPost(ctx, firstID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(first.Message, "```"), "expected a forced closing fence, got:\n%s", first.Message)
	assert.Zero(t, len(postFenceRe.FindAllString(first.Message, -1))%2)

	// The rest of the block streams in later; the next post reopens the
	// fence with the preserved language.
	require.NoError(t, f.HandleEvent(ctx, child.Event{
		Kind:    child.EventAssistant,
		Message: child.Message{Content: []child.ContentBlock{{Type: "text", Text: "done()\n```\nall done"}}},
	}))
	require.NoError(t, f.flush(ctx, false))

	secondID := f.CurrentPostID()
	require.NotEmpty(t, secondID)
	require.NotEqual(t, firstID, secondID)
	second, err := adapter.GetPost(ctx, secondID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(second.Message, "```go\n"), "expected a reopened fence, got:\n%s", second.Message)
	assert.Contains(t, second.Message, "done()")
	assert.Zero(t, len(postFenceRe.FindAllString(second.Message, -1))%2)
}

func TestFormatter_ToolResultErrorAppendsErrorLine(t *testing.T) {
	f, adapter, _ := newTestFormatter()
	ctx := context.Background()

	require.NoError(t, f.HandleEvent(ctx, child.Event{
		Kind: child.EventUser,
		Message: child.Message{
			Content: []child.ContentBlock{{Type: "tool_result", IsError: true, Content: "file not found"}},
		},
	}))
	require.NoError(t, f.flush(ctx, false))

	postID := f.CurrentPostID()
	require.NotEmpty(t, postID)
	p, err := adapter.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Contains(t, p.Message, "❌ file not found")
}
