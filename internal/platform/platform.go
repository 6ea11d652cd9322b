// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package platform defines the chat-platform-agnostic surface the session
// engine consumes. Concrete backends (Slack, Mattermost, an in-memory test
// double) live in subpackages and implement Adapter.
package platform

import (
	"context"
	"time"
)

// Post is a single message on a platform, normalized across backends.
type Post struct {
	ID        string
	PlatformID string
	ChannelID string
	UserID    string
	Message   string
	RootID    string // empty for a thread root itself
	Timestamp time.Time
}

// Reaction is an emoji reaction on a Post.
type Reaction struct {
	UserID    string
	PostID    string
	EmojiName string
	Timestamp time.Time
}

// User is a normalized platform user.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
}

// File is a normalized reference to a platform-hosted file attachment.
type File struct {
	ID        string
	Name      string
	Size      int64
	MimeType  string
	Extension string
}

// BotIdentity describes the bot's own identity on a platform.
type BotIdentity struct {
	ID   string
	Name string
}

// EventKind discriminates the Adapter event stream.
type EventKind int

const (
	EventMessage EventKind = iota
	EventReaction
	EventReactionRemoved
	EventChannelPost
	EventConnected
	EventDisconnected
	EventReconnecting
	EventError
)

// Event is one item from an Adapter's event stream. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	Post     *Post
	Reaction *Reaction
	User     *User
	Attempt  int   // EventReconnecting
	Err      error // EventError
}

// Formatter renders platform-specific markdown decorations.
type Formatter interface {
	Bold(s string) string
	Code(s string) string
	Italic(s string) string
	Link(text, url string) string
}

// Adapter is the platform-agnostic surface the session engine consumes.
// Concrete implementations own the REST/WebSocket transport details; the
// core never reaches past this interface.
type Adapter interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	PrepareForReconnect(ctx context.Context) error

	BotIdentity() BotIdentity
	Events() <-chan Event

	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	IsUserAllowed(ctx context.Context, userID string) bool
	MentionsBot(post Post) bool
	ExtractPrompt(post Post) string

	CreatePost(ctx context.Context, channelID, rootID, message string) (Post, error)
	UpdatePost(ctx context.Context, postID, message string) error
	GetPost(ctx context.Context, postID string) (Post, error)
	DeletePost(ctx context.Context, postID string) error
	PinPost(ctx context.Context, postID string) error
	UnpinPost(ctx context.Context, postID string) error
	GetPinnedPosts(ctx context.Context, channelID string) ([]Post, error)
	CreateInteractivePost(ctx context.Context, channelID, rootID, message string, reactions []string) (Post, error)
	SendTyping(ctx context.Context, channelID, rootID string) error

	AddReaction(ctx context.Context, postID, emojiName string) error
	RemoveReaction(ctx context.Context, postID, emojiName string) error

	ThreadHistory(ctx context.Context, rootID string, limit int, excludeBot bool) ([]Post, error)

	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	FileInfo(ctx context.Context, fileID string) (File, error)

	Formatter() Formatter
}
