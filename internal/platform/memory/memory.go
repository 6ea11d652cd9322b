// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package memory implements an in-memory platform.Adapter for tests and
// for driving the session engine without a real chat backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/threadbridge/threadbridge/internal/platform"
)

// Adapter is an in-memory platform.Adapter. All calls are synchronous;
// posts and pins are recorded for test assertions, while reactions and
// typing signals are accepted and discarded.
type Adapter struct {
	id   string
	bot  platform.BotIdentity
	mu   sync.Mutex
	posts map[string]platform.Post
	pinned map[string]bool
	allowed map[string]bool
	users map[string]platform.User
	events chan platform.Event
}

// New creates a memory adapter. allowedUserIDs seeds the allow-list.
func New(id string, bot platform.BotIdentity, allowedUserIDs ...string) *Adapter {
	a := &Adapter{
		id:      id,
		bot:     bot,
		posts:   make(map[string]platform.Post),
		pinned:  make(map[string]bool),
		allowed: make(map[string]bool),
		users:   make(map[string]platform.User),
		events:  make(chan platform.Event, 256),
	}
	for _, u := range allowedUserIDs {
		a.allowed[u] = true
	}
	return a
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Connect(ctx context.Context) error {
	a.events <- platform.Event{Kind: platform.EventConnected}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.events <- platform.Event{Kind: platform.EventDisconnected}
	return nil
}

func (a *Adapter) PrepareForReconnect(ctx context.Context) error { return nil }

func (a *Adapter) BotIdentity() platform.BotIdentity { return a.bot }

func (a *Adapter) Events() <-chan platform.Event { return a.events }

// Inject pushes a synthetic event into the stream, for tests to simulate
// incoming messages/reactions.
func (a *Adapter) Inject(e platform.Event) { a.events <- e }

// SeedUser registers a user for lookups.
func (a *Adapter) SeedUser(u platform.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[u.ID] = u
}

// Allow adds a user to the allow-list.
func (a *Adapter) Allow(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[userID] = true
}

func (a *Adapter) UserByID(ctx context.Context, id string) (platform.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[id]
	if !ok {
		return platform.User{}, fmt.Errorf("user %q not found", id)
	}
	return u, nil
}

func (a *Adapter) UserByUsername(ctx context.Context, username string) (platform.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.users {
		if u.Username == username {
			return u, nil
		}
	}
	return platform.User{}, fmt.Errorf("user %q not found", username)
}

func (a *Adapter) IsUserAllowed(ctx context.Context, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed[userID]
}

func (a *Adapter) MentionsBot(post platform.Post) bool {
	return len(post.Message) > 0 && post.RootID == ""
}

func (a *Adapter) ExtractPrompt(post platform.Post) string { return post.Message }

func (a *Adapter) CreatePost(ctx context.Context, channelID, rootID, message string) (platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := platform.Post{
		ID:         uuid.New().String(),
		PlatformID: a.id,
		ChannelID:  channelID,
		RootID:     rootID,
		Message:    message,
		Timestamp:  time.Now(),
	}
	a.posts[p.ID] = p
	return p, nil
}

func (a *Adapter) UpdatePost(ctx context.Context, postID, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.posts[postID]
	if !ok {
		return fmt.Errorf("post %q not found", postID)
	}
	p.Message = message
	a.posts[postID] = p
	return nil
}

func (a *Adapter) GetPost(ctx context.Context, postID string) (platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.posts[postID]
	if !ok {
		return platform.Post{}, fmt.Errorf("post %q not found", postID)
	}
	return p, nil
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.posts, postID)
	return nil
}

func (a *Adapter) PinPost(ctx context.Context, postID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pinned[postID] = true
	return nil
}

func (a *Adapter) UnpinPost(ctx context.Context, postID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pinned, postID)
	return nil
}

func (a *Adapter) GetPinnedPosts(ctx context.Context, channelID string) ([]platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []platform.Post
	for id := range a.pinned {
		if p, ok := a.posts[id]; ok && p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *Adapter) CreateInteractivePost(ctx context.Context, channelID, rootID, message string, reactions []string) (platform.Post, error) {
	p, err := a.CreatePost(ctx, channelID, rootID, message)
	if err != nil {
		return p, err
	}
	for _, r := range reactions {
		_ = a.AddReaction(ctx, p.ID, r)
	}
	return p, nil
}

func (a *Adapter) SendTyping(ctx context.Context, channelID, rootID string) error { return nil }

func (a *Adapter) AddReaction(ctx context.Context, postID, emojiName string) error { return nil }

func (a *Adapter) RemoveReaction(ctx context.Context, postID, emojiName string) error { return nil }

func (a *Adapter) ThreadHistory(ctx context.Context, rootID string, limit int, excludeBot bool) ([]platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []platform.Post
	for _, p := range a.posts {
		if p.RootID == rootID || p.ID == rootID {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, fmt.Errorf("file %q not found", fileID)
}

func (a *Adapter) FileInfo(ctx context.Context, fileID string) (platform.File, error) {
	return platform.File{}, fmt.Errorf("file %q not found", fileID)
}

func (a *Adapter) Formatter() platform.Formatter { return plainFormatter{} }

// Posts returns a snapshot of every post created on this adapter, keyed
// by post id, for test assertions.
func (a *Adapter) Posts() map[string]platform.Post {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]platform.Post, len(a.posts))
	for k, v := range a.posts {
		out[k] = v
	}
	return out
}

type plainFormatter struct{}

func (plainFormatter) Bold(s string) string       { return "**" + s + "**" }
func (plainFormatter) Code(s string) string       { return "`" + s + "`" }
func (plainFormatter) Italic(s string) string     { return "_" + s + "_" }
func (plainFormatter) Link(text, url string) string { return fmt.Sprintf("[%s](%s)", text, url) }

var _ platform.Adapter = (*Adapter)(nil)
