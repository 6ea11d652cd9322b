// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadbridge/threadbridge/internal/platform"
)

// wsFrame is one v4 WebSocket event frame. Event payloads arrive with
// their post/reaction bodies double-encoded as JSON strings.
type wsFrame struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
	Seq   int64                  `json:"seq"`
}

// wsURL derives the websocket endpoint from the configured server URL.
func wsURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v4/websocket"
}

// runWS drives the event WebSocket: dial, authenticate, read frames,
// translate, and reconnect with exponential backoff until ctx is done or
// the attempt cap is hit.
func (a *Adapter) runWS(ctx context.Context) {
	backoff := a.opts.ReconnectBackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}
	maxAttempts := a.opts.ReconnectMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			a.emit(platform.Event{Kind: platform.EventReconnecting, Attempt: attempt})
			wait := backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		err := a.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}
		a.emit(platform.Event{Kind: platform.EventDisconnected})
		if err != nil {
			a.log.Warnf("mattermost", "%s: websocket: %v", a.id, err)
		}

		attempt++
		if attempt >= maxAttempts {
			a.emit(platform.Event{Kind: platform.EventError, Err: fmt.Errorf("giving up after %d reconnect attempts", attempt)})
			return
		}
	}
}

func (a *Adapter) runConnection(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(a.opts.URL), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return fmt.Errorf("dial websocket: status %d", resp.StatusCode)
	}
	defer conn.Close()

	// Authenticate before anything else; the server drops unauthenticated
	// connections after a short grace period.
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(map[string]interface{}{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": a.opts.Token},
	}); err != nil {
		return fmt.Errorf("authenticate websocket: %w", err)
	}

	heartbeatTimeout := a.opts.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	heartbeatInterval := a.opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}

	conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-t.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.log.Debugf("mattermost", "%s: unparseable frame: %v", a.id, err)
			continue
		}

		switch frame.Event {
		case "hello":
			a.emit(platform.Event{Kind: platform.EventConnected})
		case "posted":
			if ev, ok := a.translatePosted(frame.Data); ok {
				a.emit(ev)
			}
		case "reaction_added", "reaction_removed":
			if ev, ok := a.translateReaction(frame.Event, frame.Data); ok {
				a.emit(ev)
			}
		}
	}
}

// translatePosted maps a "posted" frame: the post body arrives as a JSON
// string inside data.
func (a *Adapter) translatePosted(data map[string]interface{}) (platform.Event, bool) {
	encoded, _ := data["post"].(string)
	if encoded == "" {
		return platform.Event{}, false
	}
	var p mmPost
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return platform.Event{}, false
	}
	if p.UserID == a.BotIdentity().ID {
		return platform.Event{}, false
	}
	post := platform.Post{
		ID:         p.ID,
		PlatformID: a.id,
		ChannelID:  p.ChannelID,
		UserID:     p.UserID,
		Message:    p.Message,
		RootID:     p.RootID,
		Timestamp:  millisTime(p.CreateAt),
	}
	kind := platform.EventMessage
	if post.RootID == "" {
		kind = platform.EventChannelPost
	}
	return platform.Event{Kind: kind, Post: &post}, true
}

// translateReaction maps a reaction frame: the reaction body likewise
// arrives as a JSON string inside data.
func (a *Adapter) translateReaction(event string, data map[string]interface{}) (platform.Event, bool) {
	encoded, _ := data["reaction"].(string)
	if encoded == "" {
		return platform.Event{}, false
	}
	var r struct {
		UserID    string `json:"user_id"`
		PostID    string `json:"post_id"`
		EmojiName string `json:"emoji_name"`
		CreateAt  int64  `json:"create_at"`
	}
	if err := json.Unmarshal([]byte(encoded), &r); err != nil {
		return platform.Event{}, false
	}
	if r.UserID == a.BotIdentity().ID {
		return platform.Event{}, false
	}
	reaction := platform.Reaction{
		UserID:    r.UserID,
		PostID:    r.PostID,
		EmojiName: r.EmojiName,
		Timestamp: millisTime(r.CreateAt),
	}
	kind := platform.EventReaction
	if event == "reaction_removed" {
		kind = platform.EventReactionRemoved
	}
	return platform.Event{Kind: kind, Reaction: &reaction}, true
}
