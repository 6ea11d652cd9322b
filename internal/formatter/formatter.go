// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package formatter implements the StreamingFormatter: it consumes a
// stream of child events belonging to one session and produces a stream
// of post-creates and post-updates, respecting code-block integrity and
// the platform's message-collapse rules via breaker.ContentBreaker.
package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/threadbridge/threadbridge/internal/breaker"
	"github.com/threadbridge/threadbridge/internal/child"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/registry"
)

// Limits mirrors the breaker thresholds plus the debounce interval that
// governs how often pending content is flushed.
type Limits struct {
	breaker.Limits
	UpdateDebounceMs int
}

// Diverter decides whether a tool_use block's name should be handled by
// the InteractionEngine instead of rendered inline, suppressing the rest
// of that assistant event's formatting.
type Diverter interface {
	// Divert reports whether name (e.g. "ExitPlanMode", "AskUserQuestion")
	// diverts the whole event, and handles the side effect if so.
	Divert(ctx context.Context, sessionID string, block child.ContentBlock) (diverted bool)
	// SideChannel handles tool names that get special treatment (TodoWrite,
	// Task) without suppressing the rest of the event's formatting.
	SideChannel(ctx context.Context, sessionID string, block child.ContentBlock)
	// CompleteSubagent is called for every tool_result's tool_use_id; an
	// implementation that tracks activeSubagents (session.activeSubagents)
	// updates the matching status post to completed and is a no-op for any
	// other tool_use_id.
	CompleteSubagent(ctx context.Context, sessionID, toolUseID string, isError bool)
}

// Formatter drives one session's streaming output.
type Formatter struct {
	sessionID string
	threadID  string
	channelID string
	adapter   platform.Adapter
	reg       *registry.Registry
	limits    Limits
	log       logsink.Sink
	diverter  Diverter
	homeDir   string
	worktree  string // branch name, for path shortening; empty if not in a worktree

	mu            sync.Mutex
	pendingBuf    strings.Builder
	currentPostID string
	flushTimer    *time.Timer
	typingTimer   *time.Timer
	typingActive  bool
	gated         bool // true while an interaction is pending; suppresses typing

	// reopenFence is set when the previous flush force-closed a code block
	// that had no reachable closing ```; the next flush reopens the fence
	// with reopenLang in a fresh post.
	reopenFence bool
	reopenLang  string
}

// New creates a Formatter for one session.
func New(sessionID, threadID, channelID string, adapter platform.Adapter, reg *registry.Registry, limits Limits, log logsink.Sink, diverter Diverter, homeDir, worktree string) *Formatter {
	return &Formatter{
		sessionID: sessionID,
		threadID:  threadID,
		channelID: channelID,
		adapter:   adapter,
		reg:       reg,
		limits:    limits,
		log:       log,
		diverter:  diverter,
		homeDir:   homeDir,
		worktree:  worktree,
	}
}

// SetGated toggles whether typing indicators are suppressed because a
// pending interaction is active.
func (f *Formatter) SetGated(gated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gated = gated
	if gated {
		f.stopTypingLocked()
	}
}

// HandleEvent formats one child event, possibly creating or updating
// posts as a side effect.
func (f *Formatter) HandleEvent(ctx context.Context, ev child.Event) error {
	switch ev.Kind {
	case child.EventAssistant:
		return f.handleAssistant(ctx, ev)
	case child.EventUser:
		return f.handleToolResult(ctx, ev)
	case child.EventResult:
		return f.handleResult(ctx)
	case child.EventSystem:
		if ev.Subtype == "error" {
			f.appendContent(ctx, "⚠️ "+strings.Join(ev.Errors, "; "))
		}
	}
	return nil
}

func (f *Formatter) handleAssistant(ctx context.Context, ev child.Event) error {
	var fragments []string
	diverted := false
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			fragments = append(fragments, block.Text)
		case "thinking":
			fragments = append(fragments, italicPreview(block.Text, 100))
		case "tool_use":
			if f.diverter != nil && f.diverter.Divert(ctx, f.sessionID, toChildBlock(block)) {
				diverted = true
				continue
			}
			if block.Name == "TodoWrite" || block.Name == "Task" {
				if f.diverter != nil {
					f.diverter.SideChannel(ctx, f.sessionID, toChildBlock(block))
				}
				continue
			}
			fragments = append(fragments, f.formatToolUse(block))
		}
	}
	if diverted {
		return nil
	}
	if len(fragments) == 0 {
		return nil
	}
	f.appendContent(ctx, strings.Join(fragments, "\n"))
	return nil
}

func (f *Formatter) handleToolResult(ctx context.Context, ev child.Event) error {
	for _, block := range ev.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		if block.ToolUseID != "" && f.diverter != nil {
			f.diverter.CompleteSubagent(ctx, f.sessionID, block.ToolUseID, block.IsError)
		}
		if block.IsError {
			f.appendContent(ctx, "  ↳ ❌ "+truncate(block.Content, 200))
		} else {
			f.appendContent(ctx, "  ↳ ✓")
		}
	}
	return nil
}

func (f *Formatter) handleResult(ctx context.Context) error {
	f.stopTyping()
	if err := f.flush(ctx, true); err != nil {
		return err
	}
	f.mu.Lock()
	f.currentPostID = ""
	f.mu.Unlock()
	return nil
}

func italicPreview(text string, n int) string {
	if len(text) > n {
		text = text[:n] + "…"
	}
	return "_" + text + "_"
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}

var mcpToolRe = regexp.MustCompile(`^mcp__([^_]+)__(.+)$`)

// formatToolUse renders a tool_use block per the recognised presentation
// table: icon + path/command for known tools, 🔌 for mcp__server__tool
// names, ● name for everything else.
func (f *Formatter) formatToolUse(block child.ContentBlock) string {
	switch block.Name {
	case "Read":
		return "📄 " + f.shortenPath(inputPath(block.Input))
	case "Edit":
		line := "✏️ " + f.shortenPath(inputPath(block.Input))
		if block.Diff != "" {
			line += "\n" + block.Diff
		}
		return line
	case "Write":
		line := "📝 " + f.shortenPath(inputPath(block.Input))
		if block.Diff != "" {
			line += "\n" + block.Diff
		}
		return line
	case "Bash":
		return "💻 " + truncate(inputString(block.Input, "command"), 200)
	case "Glob":
		return "🔍 " + inputString(block.Input, "pattern")
	case "Grep":
		return "🔎 " + inputString(block.Input, "pattern")
	case "WebFetch":
		return "🌐 " + inputString(block.Input, "url")
	case "WebSearch":
		return "🌐 " + inputString(block.Input, "query")
	case "EnterPlanMode":
		return "📋 Planning…"
	case "ExitPlanMode", "AskUserQuestion", "TodoWrite", "Task":
		return ""
	}
	if m := mcpToolRe.FindStringSubmatch(block.Name); m != nil {
		return fmt.Sprintf("🔌 %s (%s)", m[2], m[1])
	}
	if block.Name == "" {
		return "●"
	}
	return "● " + block.Name
}

func (f *Formatter) shortenPath(p string) string {
	if p == "" {
		return ""
	}
	if f.worktree != "" && strings.Contains(p, f.worktree) {
		if idx := strings.Index(p, f.worktree); idx >= 0 {
			rest := p[idx+len(f.worktree):]
			return "[" + f.worktree + "]" + rest
		}
	}
	if f.homeDir != "" && strings.HasPrefix(p, f.homeDir) {
		rel, err := filepath.Rel(f.homeDir, p)
		if err == nil {
			return "~/" + rel
		}
	}
	return p
}

func inputPath(raw json.RawMessage) string {
	return inputString(raw, "file_path")
}

func inputString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]interface{}
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func toChildBlock(b child.ContentBlock) child.ContentBlock { return b }

// appendContent concatenates fragment to the pending buffer and arms the
// flush timer, flushing immediately if shouldFlushEarly fires.
func (f *Formatter) appendContent(ctx context.Context, fragment string) {
	f.mu.Lock()
	f.pendingBuf.WriteString(fragment)
	f.pendingBuf.WriteString("\n")
	content := f.pendingBuf.String()
	f.mu.Unlock()

	if breaker.ShouldFlushEarly(content, f.limits.Limits) {
		_ = f.flush(ctx, false)
		return
	}
	f.armFlushTimer(ctx)
}

func (f *Formatter) armFlushTimer(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushTimer != nil {
		f.flushTimer.Stop()
	}
	debounce := time.Duration(f.limits.UpdateDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	f.flushTimer = time.AfterFunc(debounce, func() {
		_ = f.flush(ctx, false)
	})
}

// flush collapses the pending buffer and posts/updates it. final is true
// on a Result event, which forces a new post next time regardless of fit.
func (f *Formatter) flush(ctx context.Context, final bool) error {
	f.mu.Lock()
	content := f.pendingBuf.String()
	if content == "" {
		f.mu.Unlock()
		return nil
	}
	f.pendingBuf.Reset()
	if f.flushTimer != nil {
		f.flushTimer.Stop()
	}
	currentPostID := f.currentPostID
	reopening := f.reopenFence
	reopenLang := f.reopenLang
	f.reopenFence = false
	f.reopenLang = ""
	f.mu.Unlock()

	content = collapseBlankRuns(strings.TrimSpace(content))
	if content == "" {
		return nil
	}
	if reopening {
		// The previous post was force-closed mid-block; continue it by
		// reopening the fence with the preserved language.
		content = "```" + reopenLang + "\n" + content
	}

	chunks := []string{content}
	if breaker.ShouldFlushEarly(content, f.limits.Limits) {
		chunks = breaker.SplitForHeight(content, f.limits.Limits)
	}

	// No emitted post may end inside an open code block: force-close at
	// every chunk boundary, and if the buffer itself ended open, remember
	// to reopen on the next flush.
	chunks, openLang, stillOpen := breaker.CloseOpenFences(chunks)
	if stillOpen {
		f.mu.Lock()
		f.reopenFence = true
		f.reopenLang = openLang
		f.mu.Unlock()
	}

	for i, chunk := range chunks {
		isLast := i == len(chunks)-1
		if currentPostID != "" && i == 0 && !final && !reopening {
			if err := f.adapter.UpdatePost(ctx, currentPostID, chunk); err != nil {
				f.log.Warnf("formatter", "update post %s failed, reverting to create-new: %v", currentPostID, err)
				currentPostID = ""
			} else {
				continue
			}
		}
		post, err := f.adapter.CreatePost(ctx, f.channelID, f.threadID, chunk)
		if err != nil {
			f.log.Warnf("formatter", "create post failed: %v", err)
			return err
		}
		f.reg.Register(post.ID, f.threadID, f.sessionID, registry.RoleContent, "", nil)
		if isLast {
			f.mu.Lock()
			f.currentPostID = post.ID
			f.mu.Unlock()
		}
		currentPostID = post.ID
	}
	return nil
}

var blankRunsRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankRuns(s string) string {
	return blankRunsRe.ReplaceAllString(s, "\n\n")
}

// StartTyping sends a typing signal immediately and re-sends every
// typingIntervalMs until StopTyping is called. No-op while gated.
func (f *Formatter) StartTyping(ctx context.Context, intervalMs int) {
	f.mu.Lock()
	if f.gated || f.typingActive {
		f.mu.Unlock()
		return
	}
	f.typingActive = true
	f.mu.Unlock()

	_ = f.adapter.SendTyping(ctx, f.channelID, f.threadID)

	interval := time.Duration(intervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 3 * time.Second
	}
	f.mu.Lock()
	f.typingTimer = time.AfterFunc(interval, func() { f.retypeLoop(ctx, interval) })
	f.mu.Unlock()
}

func (f *Formatter) retypeLoop(ctx context.Context, interval time.Duration) {
	f.mu.Lock()
	if !f.typingActive {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	_ = f.adapter.SendTyping(ctx, f.channelID, f.threadID)
	f.mu.Lock()
	f.typingTimer = time.AfterFunc(interval, func() { f.retypeLoop(ctx, interval) })
	f.mu.Unlock()
}

// StopTyping cancels the repeating typing signal.
func (f *Formatter) StopTyping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTypingLocked()
}

func (f *Formatter) stopTyping() { f.StopTyping() }

func (f *Formatter) stopTypingLocked() {
	f.typingActive = false
	if f.typingTimer != nil {
		f.typingTimer.Stop()
		f.typingTimer = nil
	}
}

// CurrentPostID returns the post currently being extended, if any.
func (f *Formatter) CurrentPostID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentPostID
}
