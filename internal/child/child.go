// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package child defines the ChildProcess contract — the one-assistant-
// process-per-session abstraction the session engine drives — and a
// concrete implementation that spawns the assistant CLI over exec.Cmd and
// speaks its NDJSON streaming protocol.
package child

import (
	"context"
	"encoding/json"
	"time"
)

// ContentBlock is a tagged union over the content block shapes the
// assistant CLI emits: text, thinking, tool_use, tool_result, and
// server_tool_use. Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	// Diff is pre-rendered by enrichEditBlock/enrichWriteBlock for Edit and
	// Write tool_use blocks; empty for every other block type.
	Diff string `json:"-"`
}

// Message is one turn of conversation, used for context formatting and
// persisted history.
type Message struct {
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventKind discriminates the ChildProcess event stream.
type EventKind int

const (
	EventAssistant EventKind = iota
	EventUser
	EventResult
	EventSystem
	EventExit
)

// Usage carries token accounting from a Result event, when present.
type Usage struct {
	InputTokens              int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	OutputTokens             int
}

// Event is one item from a ChildProcess's event stream.
type Event struct {
	Kind EventKind

	// EventAssistant, EventUser
	Message Message

	// EventResult
	Usage   Usage
	IsError bool
	Errors  []string

	// EventSystem
	Subtype string
	Status  string

	// EventExit
	ExitCode int

	// PermissionRequest is populated on a control_request system event
	// (from --permission-prompt-tool stdio): a tool call awaiting the
	// user's approve/deny decision.
	PermissionRequest *PermissionRequest
}

// PermissionRequest is a tool call the child is blocked on pending
// approval, surfaced as a system event with Subtype "control_request".
type PermissionRequest struct {
	RequestID string
	ToolName  string
	ToolInput json.RawMessage
}

// SpawnOptions configures one child process instance.
type SpawnOptions struct {
	WorkingDir            string
	ThreadID              string
	SkipPermissions       bool
	SessionID             string // resume target, if any
	Resume                bool
	Chrome                bool
	PlatformConfig        map[string]string
	AppendSystemPrompt    string
	PermissionTimeoutMs   int
}

// ChildProcess is the platform-agnostic surface the session engine drives
// for one assistant process. Concrete implementations own the transport
// (exec.Cmd, NDJSON framing); the core never reaches past this interface.
type ChildProcess interface {
	Spawn(ctx context.Context, opts SpawnOptions) error
	SendMessage(ctx context.Context, blocks []ContentBlock) error
	Interrupt(ctx context.Context) error
	Kill() error
	IsRunning() bool
	Events() <-chan Event
	// RespondToPermission answers a pending PermissionRequest by RequestID.
	RespondToPermission(ctx context.Context, requestID string, approve bool) error
}
