// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package command implements the CommandRegistry and Dispatcher: a
// declarative table of `!`-prefixed commands, routed with first-message
// vs in-session context, plus validation of assistant-emitted commands.
package command

import "strings"

// Audience restricts who may issue a command.
type Audience string

const (
	AudienceUser      Audience = "user"
	AudienceAssistant Audience = "assistant"
	AudienceBoth      Audience = "both"
)

// Context distinguishes where in a thread's lifecycle a command arrived.
type Context string

const (
	ContextFirstMessage Context = "first-message"
	ContextInSession    Context = "in-session"
)

// Handler optionally executes one command invocation; args is the text
// after the command name, already split on whitespace. Most rows leave it
// nil and Dispatch acts as a pure gate — the caller (SessionManager)
// applies the command's effect itself after a handled result.
type Handler func(ctx Invocation) Result

// Invocation carries everything a Handler needs to act.
type Invocation struct {
	Context   Context
	UserID    string
	Args      []string
	Remainder string // raw text after the command name
}

// Result is what a Handler reports back to the Dispatcher.
type Result struct {
	Handled         bool
	SessionOptions  map[string]string
	WorktreeBranch  string
	RemainingText   string
}

// Command is one row of the declarative table.
type Command struct {
	Name                 string
	Subcommands          []string
	Description          string
	ArgsSpec             string
	Audience             Audience
	WorksInFirstMessage  bool
	AssistantCanExecute  bool
	ReturnsResultToChild bool
	Notes                string
	Handler              Handler
}

// Registry is the declarative command table.
type Registry struct {
	byName map[string]Command
	order  []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Command)}
}

// Register adds cmd to the table, keyed by its name.
func (r *Registry) Register(cmd Command) {
	if _, exists := r.byName[cmd.Name]; !exists {
		r.order = append(r.order, cmd.Name)
	}
	r.byName[cmd.Name] = cmd
}

// Lookup returns the command named name, if registered.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// AssistantExecutable returns the set of command names the assistant is
// permitted to invoke, for validating `!cmd` text the child emits.
func (r *Registry) AssistantExecutable() map[string]bool {
	out := make(map[string]bool)
	for _, name := range r.order {
		c := r.byName[name]
		if c.AssistantCanExecute && (c.Audience == AudienceAssistant || c.Audience == AudienceBoth) {
			out[name] = true
		}
	}
	return out
}

// HelpText renders a one-line-per-command help listing derived from the
// registry, for the `!help` command.
func (r *Registry) HelpText() string {
	var b strings.Builder
	for _, name := range r.order {
		c := r.byName[name]
		b.WriteString("!")
		b.WriteString(c.Name)
		if c.ArgsSpec != "" {
			b.WriteString(" ")
			b.WriteString(c.ArgsSpec)
		}
		b.WriteString(" — ")
		b.WriteString(c.Description)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Dispatcher routes `!cmd` messages to the registry.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// IsCommand reports whether text looks like a `!cmd` invocation.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "!")
}

// ValidateAssistantCommand reports whether text is a `!cmd` the assistant
// is permitted to emit. A misclassified or disallowed invocation is never
// an error condition for the caller; the text is silently dropped rather
// than surfaced as a validation failure.
func (d *Dispatcher) ValidateAssistantCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "!") {
		return false
	}
	name := strings.SplitN(strings.TrimPrefix(trimmed, "!"), " ", 2)[0]
	return d.registry.AssistantExecutable()[name]
}

// Dispatch splits text on the first whitespace, looks up the command, and
// invokes its handler if the command context permits. A command marked
// WorksInFirstMessage=false is a no-op ({Handled:false}) in first-message
// context. A row with a nil Handler reports {Handled:true} and leaves the
// effect to the caller.
func (d *Dispatcher) Dispatch(text string, ctxKind Context, userID string) Result {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "!") {
		return Result{}
	}
	trimmed = strings.TrimPrefix(trimmed, "!")
	parts := strings.SplitN(trimmed, " ", 2)
	name := parts[0]
	remainder := ""
	if len(parts) > 1 {
		remainder = parts[1]
	}

	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return Result{}
	}
	if !cmd.WorksInFirstMessage && ctxKind == ContextFirstMessage {
		return Result{}
	}
	if cmd.Handler == nil {
		return Result{Handled: true}
	}
	var args []string
	if remainder != "" {
		args = strings.Fields(remainder)
	}
	return cmd.Handler(Invocation{Context: ctxKind, UserID: userID, Args: args, Remainder: remainder})
}

// DefaultTable returns the recognised command rows with their metadata
// populated and Handler left nil. For these rows Dispatch is a gate only:
// it answers whether the command exists, works in this context, and who
// may run it, while the effects live in the SessionManager's dispatch
// switches (which need session and manager state this package cannot
// see). A Handler is attached via Registry.Register only for rows that
// carry their own logic, e.g. in tests; commands.yaml overlay rows are
// registered without one.
func DefaultTable() []Command {
	return []Command{
		{Name: "help", Description: "post help derived from the command table", Audience: AudienceUser, WorksInFirstMessage: true},
		{Name: "release-notes", Description: "post static release notes", Audience: AudienceUser, WorksInFirstMessage: true},
		{Name: "stop", Description: "cancel the session", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "escape", Description: "send an interrupt to the child; keep the session", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "approve", Description: "short-circuit plan approval", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "invite", ArgsSpec: "@user", Description: "add a user to sessionAllowedUsers", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "kick", ArgsSpec: "@user", Description: "remove a user from sessionAllowedUsers", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "cd", ArgsSpec: "<path>", Description: "change workingDir; restart the child there", Audience: AudienceBoth, WorksInFirstMessage: true, AssistantCanExecute: true},
		{Name: "permissions", ArgsSpec: "interactive|skip", Description: "toggle the permission mode", Audience: AudienceUser, WorksInFirstMessage: true},
		{Name: "worktree", ArgsSpec: "<branch>|list|switch|remove|cleanup|off", Description: "worktree orchestration", Audience: AudienceBoth, WorksInFirstMessage: true},
		{Name: "update", ArgsSpec: "[now|defer]", Description: "interact with the auto-updater", Audience: AudienceUser, WorksInFirstMessage: true},
		{Name: "kill", Description: "terminate the whole process", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "bug", ArgsSpec: "<desc>", Description: "open a bug-report interaction", Audience: AudienceBoth, WorksInFirstMessage: false},
		{Name: "plugin", ArgsSpec: "list|install|uninstall", Description: "plugin lifecycle", Audience: AudienceUser, WorksInFirstMessage: false},
		{Name: "context", Description: "forward as /context to the child", Audience: AudienceBoth, WorksInFirstMessage: false, AssistantCanExecute: true, ReturnsResultToChild: true},
		{Name: "cost", Description: "forward as /cost to the child", Audience: AudienceBoth, WorksInFirstMessage: false, AssistantCanExecute: true, ReturnsResultToChild: true},
		{Name: "compact", Description: "forward as /compact to the child", Audience: AudienceBoth, WorksInFirstMessage: false, AssistantCanExecute: true, ReturnsResultToChild: true},
	}
}

// IsElevated reports whether userID may invoke elevation-requiring
// commands: membership in sessionAllowedUsers union the platform
// allow-list, supplied by the caller since command has no platform
// dependency of its own.
func IsElevated(userID string, sessionAllowedUsers map[string]bool, platformAllowed func(string) bool) bool {
	if sessionAllowedUsers[userID] {
		return true
	}
	if platformAllowed != nil && platformAllowed(userID) {
		return true
	}
	return false
}
