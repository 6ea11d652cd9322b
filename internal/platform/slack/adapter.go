// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
)

// Options configures a Slack adapter instance.
type Options struct {
	ID           string // platform id used in session keys
	BotToken     string // xoxb- token, Web API calls
	AppToken     string // xapp- token, Socket Mode
	AllowedUsers []string

	ReconnectBackoffBase time.Duration
	ReconnectMaxAttempts int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration

	// APIURL overrides the Web API base URL, for tests.
	APIURL string
}

// Adapter is the Slack platform.Adapter.
type Adapter struct {
	id      string
	opts    Options
	api     *apiClient // bot token: messaging
	appAPI  *apiClient // app token: apps.connections.open
	log     logsink.Sink
	events  chan platform.Event
	allowed map[string]bool

	mu     sync.Mutex
	bot    platform.BotIdentity
	cancel context.CancelFunc
}

// New creates a Slack adapter. Connect must be called before use.
func New(opts Options, log logsink.Sink) *Adapter {
	a := &Adapter{
		id:      opts.ID,
		opts:    opts,
		api:     newAPIClient(opts.APIURL, opts.BotToken),
		appAPI:  newAPIClient(opts.APIURL, opts.AppToken),
		log:     log,
		events:  make(chan platform.Event, 256),
		allowed: make(map[string]bool, len(opts.AllowedUsers)),
	}
	for _, u := range opts.AllowedUsers {
		a.allowed[u] = true
	}
	return a
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) emit(e platform.Event) {
	select {
	case a.events <- e:
	default:
		a.log.Warnf("slack", "%s: event buffer full, dropping %v", a.id, e.Kind)
	}
}

// Connect resolves the bot identity via auth.test and starts the Socket
// Mode event loop.
func (a *Adapter) Connect(ctx context.Context) error {
	var auth struct {
		apiEnvelope
		UserID string `json:"user_id"`
		User   string `json:"user"`
	}
	if err := a.api.call(ctx, "auth.test", struct{}{}, &auth); err != nil {
		return fmt.Errorf("slack auth.test: %w", err)
	}

	a.mu.Lock()
	a.bot = platform.BotIdentity{ID: auth.UserID, Name: auth.User}
	socketCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.runSocket(socketCtx)
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

// PrepareForReconnect tears down the socket so the next Connect starts
// clean; the Web API client needs no reset.
func (a *Adapter) PrepareForReconnect(ctx context.Context) error {
	return a.Disconnect(ctx)
}

func (a *Adapter) BotIdentity() platform.BotIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot
}

func (a *Adapter) Events() <-chan platform.Event { return a.events }

type slackUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
		Email       string `json:"email"`
	} `json:"profile"`
}

func normalizeUser(u slackUser) platform.User {
	display := u.Profile.DisplayName
	if display == "" {
		display = u.Profile.RealName
	}
	return platform.User{ID: u.ID, Username: u.Name, DisplayName: display, Email: u.Profile.Email}
}

func (a *Adapter) UserByID(ctx context.Context, id string) (platform.User, error) {
	var resp struct {
		apiEnvelope
		User slackUser `json:"user"`
	}
	if err := a.api.call(ctx, "users.info", map[string]string{"user": id}, &resp); err != nil {
		return platform.User{}, err
	}
	return normalizeUser(resp.User), nil
}

func (a *Adapter) UserByUsername(ctx context.Context, username string) (platform.User, error) {
	var resp struct {
		apiEnvelope
		Members []slackUser `json:"members"`
	}
	if err := a.api.call(ctx, "users.list", struct{}{}, &resp); err != nil {
		return platform.User{}, err
	}
	for _, m := range resp.Members {
		if m.Name == username {
			return normalizeUser(m), nil
		}
	}
	return platform.User{}, fmt.Errorf("user %q not found", username)
}

func (a *Adapter) IsUserAllowed(ctx context.Context, userID string) bool {
	return a.allowed[userID]
}

// MentionsBot reports whether post contains a <@BOTID> mention.
func (a *Adapter) MentionsBot(post platform.Post) bool {
	bot := a.BotIdentity()
	if bot.ID == "" {
		return false
	}
	return strings.Contains(post.Message, "<@"+bot.ID+">")
}

// ExtractPrompt strips the bot mention tokens from the message text.
func (a *Adapter) ExtractPrompt(post platform.Post) string {
	bot := a.BotIdentity()
	text := post.Message
	if bot.ID != "" {
		text = strings.ReplaceAll(text, "<@"+bot.ID+">", "")
	}
	return strings.TrimSpace(text)
}

func (a *Adapter) CreatePost(ctx context.Context, channelID, rootID, message string) (platform.Post, error) {
	args := map[string]string{"channel": channelID, "text": message}
	if rootID != "" {
		_, threadTS := splitRef(rootID)
		args["thread_ts"] = threadTS
	}
	var resp struct {
		apiEnvelope
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	if err := a.api.call(ctx, "chat.postMessage", args, &resp); err != nil {
		return platform.Post{}, err
	}
	return platform.Post{
		ID:         postRef(resp.Channel, resp.TS),
		PlatformID: a.id,
		ChannelID:  resp.Channel,
		UserID:     a.BotIdentity().ID,
		Message:    message,
		RootID:     rootID,
		Timestamp:  tsTime(resp.TS),
	}, nil
}

func (a *Adapter) UpdatePost(ctx context.Context, postID, message string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "chat.update", map[string]string{"channel": channel, "ts": ts, "text": message}, nil)
}

func (a *Adapter) GetPost(ctx context.Context, postID string) (platform.Post, error) {
	channel, ts := splitRef(postID)
	var resp struct {
		apiEnvelope
		Messages []struct {
			User     string `json:"user"`
			Text     string `json:"text"`
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
		} `json:"messages"`
	}
	args := map[string]interface{}{"channel": channel, "latest": ts, "inclusive": true, "limit": 1}
	if err := a.api.call(ctx, "conversations.history", args, &resp); err != nil {
		return platform.Post{}, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].TS != ts {
		return platform.Post{}, fmt.Errorf("post %q not found", postID)
	}
	m := resp.Messages[0]
	p := platform.Post{
		ID:         postID,
		PlatformID: a.id,
		ChannelID:  channel,
		UserID:     m.User,
		Message:    m.Text,
		Timestamp:  tsTime(m.TS),
	}
	if m.ThreadTS != "" && m.ThreadTS != m.TS {
		p.RootID = postRef(channel, m.ThreadTS)
	}
	return p, nil
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "chat.delete", map[string]string{"channel": channel, "ts": ts}, nil)
}

func (a *Adapter) PinPost(ctx context.Context, postID string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "pins.add", map[string]string{"channel": channel, "timestamp": ts}, nil)
}

func (a *Adapter) UnpinPost(ctx context.Context, postID string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "pins.remove", map[string]string{"channel": channel, "timestamp": ts}, nil)
}

func (a *Adapter) GetPinnedPosts(ctx context.Context, channelID string) ([]platform.Post, error) {
	var resp struct {
		apiEnvelope
		Items []struct {
			Message struct {
				User string `json:"user"`
				Text string `json:"text"`
				TS   string `json:"ts"`
			} `json:"message"`
		} `json:"items"`
	}
	if err := a.api.call(ctx, "pins.list", map[string]string{"channel": channelID}, &resp); err != nil {
		return nil, err
	}
	out := make([]platform.Post, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, platform.Post{
			ID:         postRef(channelID, item.Message.TS),
			PlatformID: a.id,
			ChannelID:  channelID,
			UserID:     item.Message.User,
			Message:    item.Message.Text,
			Timestamp:  tsTime(item.Message.TS),
		})
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
			a.log.Debugf("slack", "%s: seed reaction %s: %v", a.id, r, err)
		}
	}
	return post, nil
}

// SendTyping is a no-op: the Web API offers no typing indicator to bots.
func (a *Adapter) SendTyping(ctx context.Context, channelID, rootID string) error {
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, postID, emojiName string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "reactions.add", map[string]string{"channel": channel, "timestamp": ts, "name": emojiName}, nil)
}

func (a *Adapter) RemoveReaction(ctx context.Context, postID, emojiName string) error {
	channel, ts := splitRef(postID)
	return a.api.call(ctx, "reactions.remove", map[string]string{"channel": channel, "timestamp": ts, "name": emojiName}, nil)
}

func (a *Adapter) ThreadHistory(ctx context.Context, rootID string, limit int, excludeBot bool) ([]platform.Post, error) {
	channel, threadTS := splitRef(rootID)
	args := map[string]interface{}{"channel": channel, "ts": threadTS}
	if limit > 0 {
		args["limit"] = limit
	}
	var resp struct {
		apiEnvelope
		Messages []struct {
			User     string `json:"user"`
			BotID    string `json:"bot_id"`
			Text     string `json:"text"`
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
		} `json:"messages"`
	}
	if err := a.api.call(ctx, "conversations.replies", args, &resp); err != nil {
		return nil, err
	}
	bot := a.BotIdentity()
	out := make([]platform.Post, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if excludeBot && (m.BotID != "" || m.User == bot.ID) {
			continue
		}
		p := platform.Post{
			ID:         postRef(channel, m.TS),
			PlatformID: a.id,
			ChannelID:  channel,
			UserID:     m.User,
			Message:    m.Text,
			Timestamp:  tsTime(m.TS),
		}
		if m.ThreadTS != "" && m.ThreadTS != m.TS {
			p.RootID = postRef(channel, m.ThreadTS)
		}
		out = append(out, p)
	}
	return out, nil
}

type slackFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Mimetype   string `json:"mimetype"`
	Filetype   string `json:"filetype"`
	URLPrivate string `json:"url_private"`
}

func (a *Adapter) fileInfo(ctx context.Context, fileID string) (slackFile, error) {
	var resp struct {
		apiEnvelope
		File slackFile `json:"file"`
	}
	if err := a.api.call(ctx, "files.info", map[string]string{"file": fileID}, &resp); err != nil {
		return slackFile{}, err
	}
	return resp.File, nil
}

func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	f, err := a.fileInfo(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.URLPrivate == "" {
		return nil, fmt.Errorf("file %q has no download url", fileID)
	}
	return a.api.download(ctx, f.URLPrivate)
}

func (a *Adapter) FileInfo(ctx context.Context, fileID string) (platform.File, error) {
	f, err := a.fileInfo(ctx, fileID)
	if err != nil {
		return platform.File{}, err
	}
	return platform.File{ID: f.ID, Name: f.Name, Size: f.Size, MimeType: f.Mimetype, Extension: f.Filetype}, nil
}

func (a *Adapter) Formatter() platform.Formatter { return mrkdwnFormatter{} }

// mrkdwnFormatter renders Slack's mrkdwn decorations.
type mrkdwnFormatter struct{}

func (mrkdwnFormatter) Bold(s string) string   { return "*" + s + "*" }
func (mrkdwnFormatter) Code(s string) string   { return "`" + s + "`" }
func (mrkdwnFormatter) Italic(s string) string { return "_" + s + "_" }
func (mrkdwnFormatter) Link(text, url string) string {
	return "<" + url + "|" + text + ">"
}

var _ platform.Adapter = (*Adapter)(nil)
