// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
)

// Options configures a Mattermost adapter instance.
type Options struct {
	ID           string // platform id used in session keys
	URL          string // server URL, e.g. https://chat.example.com
	Token        string // bot or personal-access token
	TeamID       string
	AllowedUsers []string

	ReconnectBackoffBase time.Duration
	ReconnectMaxAttempts int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
}

// Adapter is the Mattermost platform.Adapter.
type Adapter struct {
	id      string
	opts    Options
	rest    *restClient
	log     logsink.Sink
	events  chan platform.Event
	allowed map[string]bool

	mu     sync.Mutex
	bot    platform.BotIdentity
	cancel context.CancelFunc
}

// New creates a Mattermost adapter. Connect must be called before use.
func New(opts Options, log logsink.Sink) (*Adapter, error) {
	rest, err := newRESTClient(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		id:      opts.ID,
		opts:    opts,
		rest:    rest,
		log:     log,
		events:  make(chan platform.Event, 256),
		allowed: make(map[string]bool, len(opts.AllowedUsers)),
	}
	for _, u := range opts.AllowedUsers {
		a.allowed[u] = true
	}
	return a, nil
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) emit(e platform.Event) {
	select {
	case a.events <- e:
	default:
		a.log.Warnf("mattermost", "%s: event buffer full, dropping %v", a.id, e.Kind)
	}
}

// Connect resolves the bot identity and starts the WebSocket event loop.
func (a *Adapter) Connect(ctx context.Context) error {
	var me mmUser
	if err := a.rest.do(ctx, http.MethodGet, "/users/me", nil, &me); err != nil {
		return fmt.Errorf("mattermost users/me: %w", err)
	}

	a.mu.Lock()
	a.bot = platform.BotIdentity{ID: me.ID, Name: me.Username}
	wsCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.runWS(wsCtx)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return nil
}

func (a *Adapter) PrepareForReconnect(ctx context.Context) error {
	return a.Disconnect(ctx)
}

func (a *Adapter) BotIdentity() platform.BotIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot
}

func (a *Adapter) Events() <-chan platform.Event { return a.events }

func normalizeUser(u mmUser) platform.User {
	display := u.Nickname
	if display == "" {
		display = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	if display == "" {
		display = u.Username
	}
	return platform.User{ID: u.ID, Username: u.Username, DisplayName: display, Email: u.Email}
}

func (a *Adapter) UserByID(ctx context.Context, id string) (platform.User, error) {
	var u mmUser
	if err := a.rest.do(ctx, http.MethodGet, "/users/"+id, nil, &u); err != nil {
		return platform.User{}, err
	}
	return normalizeUser(u), nil
}

func (a *Adapter) UserByUsername(ctx context.Context, username string) (platform.User, error) {
	var u mmUser
	if err := a.rest.do(ctx, http.MethodGet, "/users/username/"+username, nil, &u); err != nil {
		return platform.User{}, err
	}
	return normalizeUser(u), nil
}

func (a *Adapter) IsUserAllowed(ctx context.Context, userID string) bool {
	return a.allowed[userID]
}

// MentionsBot reports whether post contains an @botname mention.
func (a *Adapter) MentionsBot(post platform.Post) bool {
	bot := a.BotIdentity()
	if bot.Name == "" {
		return false
	}
	return strings.Contains(post.Message, "@"+bot.Name)
}

// ExtractPrompt strips the bot mention from the message text.
func (a *Adapter) ExtractPrompt(post platform.Post) string {
	bot := a.BotIdentity()
	text := post.Message
	if bot.Name != "" {
		text = strings.ReplaceAll(text, "@"+bot.Name, "")
	}
	return strings.TrimSpace(text)
}

func (a *Adapter) toPost(p mmPost) platform.Post {
	return platform.Post{
		ID:         p.ID,
		PlatformID: a.id,
		ChannelID:  p.ChannelID,
		UserID:     p.UserID,
		Message:    p.Message,
		RootID:     p.RootID,
		Timestamp:  millisTime(p.CreateAt),
	}
}

func (a *Adapter) CreatePost(ctx context.Context, channelID, rootID, message string) (platform.Post, error) {
	var created mmPost
	args := map[string]string{"channel_id": channelID, "message": message}
	if rootID != "" {
		args["root_id"] = rootID
	}
	if err := a.rest.do(ctx, http.MethodPost, "/posts", args, &created); err != nil {
		return platform.Post{}, err
	}
	return a.toPost(created), nil
}

func (a *Adapter) UpdatePost(ctx context.Context, postID, message string) error {
	return a.rest.do(ctx, http.MethodPut, "/posts/"+postID+"/patch", map[string]string{"message": message}, nil)
}

func (a *Adapter) GetPost(ctx context.Context, postID string) (platform.Post, error) {
	var p mmPost
	if err := a.rest.do(ctx, http.MethodGet, "/posts/"+postID, nil, &p); err != nil {
		return platform.Post{}, err
	}
	return a.toPost(p), nil
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	return a.rest.do(ctx, http.MethodDelete, "/posts/"+postID, nil, nil)
}

func (a *Adapter) PinPost(ctx context.Context, postID string) error {
	return a.rest.do(ctx, http.MethodPost, "/posts/"+postID+"/pin", nil, nil)
}

func (a *Adapter) UnpinPost(ctx context.Context, postID string) error {
	return a.rest.do(ctx, http.MethodPost, "/posts/"+postID+"/unpin", nil, nil)
}

func (a *Adapter) GetPinnedPosts(ctx context.Context, channelID string) ([]platform.Post, error) {
	var list struct {
		Order []string          `json:"order"`
		Posts map[string]mmPost `json:"posts"`
	}
	if err := a.rest.do(ctx, http.MethodGet, "/channels/"+channelID+"/pinned", nil, &list); err != nil {
		return nil, err
	}
	out := make([]platform.Post, 0, len(list.Order))
	for _, id := range list.Order {
		if p, ok := list.Posts[id]; ok {
			out = append(out, a.toPost(p))
		}
	}
	return out, nil
}

func (a *Adapter) CreateInteractivePost(ctx context.Context, channelID, rootID, message string, reactions []string) (platform.Post, error) {
	post, err := a.CreatePost(ctx, channelID, rootID, message)
	if err != nil {
		return post, err
	}
	for _, r := range reactions {
		if err := a.AddReaction(ctx, post.ID, r); err != nil {
			a.log.Debugf("mattermost", "%s: seed reaction %s: %v", a.id, r, err)
		}
	}
	return post, nil
}

func (a *Adapter) SendTyping(ctx context.Context, channelID, rootID string) error {
	args := map[string]string{"channel_id": channelID}
	if rootID != "" {
		args["parent_id"] = rootID
	}
	return a.rest.do(ctx, http.MethodPost, "/users/me/typing", args, nil)
}

func (a *Adapter) AddReaction(ctx context.Context, postID, emojiName string) error {
	return a.rest.do(ctx, http.MethodPost, "/reactions", map[string]string{
		"user_id":    a.BotIdentity().ID,
		"post_id":    postID,
		"emoji_name": emojiName,
	}, nil)
}

func (a *Adapter) RemoveReaction(ctx context.Context, postID, emojiName string) error {
	return a.rest.do(ctx, http.MethodDelete, "/users/me/posts/"+postID+"/reactions/"+emojiName, nil, nil)
}

func (a *Adapter) ThreadHistory(ctx context.Context, rootID string, limit int, excludeBot bool) ([]platform.Post, error) {
	var thread struct {
		Order []string          `json:"order"`
		Posts map[string]mmPost `json:"posts"`
	}
	if err := a.rest.do(ctx, http.MethodGet, "/posts/"+rootID+"/thread", nil, &thread); err != nil {
		return nil, err
	}
	bot := a.BotIdentity()
	out := make([]platform.Post, 0, len(thread.Order))
	for _, id := range thread.Order {
		p, ok := thread.Posts[id]
		if !ok {
			continue
		}
		if excludeBot && p.UserID == bot.ID {
			continue
		}
		out = append(out, a.toPost(p))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return a.rest.download(ctx, "/files/"+fileID)
}

func (a *Adapter) FileInfo(ctx context.Context, fileID string) (platform.File, error) {
	var info mmFileInfo
	if err := a.rest.do(ctx, http.MethodGet, "/files/"+fileID+"/info", nil, &info); err != nil {
		return platform.File{}, err
	}
	return platform.File{ID: info.ID, Name: info.Name, Size: info.Size, MimeType: info.MimeType, Extension: info.Extension}, nil
}

func (a *Adapter) Formatter() platform.Formatter { return markdownFormatter{} }

// markdownFormatter renders Mattermost's markdown decorations.
type markdownFormatter struct{}

func (markdownFormatter) Bold(s string) string   { return "**" + s + "**" }
func (markdownFormatter) Code(s string) string   { return "`" + s + "`" }
func (markdownFormatter) Italic(s string) string { return "_" + s + "_" }
func (markdownFormatter) Link(text, url string) string {
	return fmt.Sprintf("[%s](%s)", text, url)
}

var _ platform.Adapter = (*Adapter)(nil)
