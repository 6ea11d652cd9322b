// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadbridge/threadbridge/internal/platform"
)

// envelope is one Socket Mode frame.
type envelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id"`
	Payload    json.RawMessage `json:"payload"`
}

// eventsAPIPayload is the payload of a type=events_api envelope.
type eventsAPIPayload struct {
	Event json.RawMessage `json:"event"`
}

// innerEvent is the union of the Events API event shapes the bridge
// consumes; unrecognised types are dropped.
type innerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Reaction string `json:"reaction"`
	Item     struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	} `json:"item"`
	Files []struct {
		ID string `json:"id"`
	} `json:"files"`
}

// connectResponse is apps.connections.open's payload.
type connectResponse struct {
	apiEnvelope
	URL string `json:"url"`
}

// runSocket drives the Socket Mode connection: dial, read envelopes, ack,
// translate, and reconnect with exponential backoff until ctx is done or
// the attempt cap is hit. It owns writing platform events to a.events.
func (a *Adapter) runSocket(ctx context.Context) {
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
			a.log.Warnf("slack", "%s: socket: %v", a.id, err)
		}

		attempt++
		if attempt >= maxAttempts {
			a.emit(platform.Event{Kind: platform.EventError, Err: fmt.Errorf("giving up after %d reconnect attempts", attempt)})
			return
		}
	}
}

// runConnection opens one Socket Mode connection and pumps it until it
// breaks. A clean server-requested disconnect returns nil.
func (a *Adapter) runConnection(ctx context.Context) error {
	var open connectResponse
	if err := a.appAPI.call(ctx, "apps.connections.open", struct{}{}, &open); err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, open.URL, nil)
	if err != nil {
		return fmt.Errorf("dial socket mode: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return fmt.Errorf("dial socket mode: status %d", resp.StatusCode)
	}
	defer conn.Close()

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

	// Close the connection when ctx ends so ReadMessage unblocks, and ping
	// on the heartbeat interval so a dead connection trips the deadline.
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

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.log.Debugf("slack", "%s: unparseable envelope: %v", a.id, err)
			continue
		}

		switch env.Type {
		case "hello":
			a.emit(platform.Event{Kind: platform.EventConnected})
		case "disconnect":
			// The server rotates connections; reconnect without counting it
			// as a failure.
			return nil
		case "events_api":
			a.ack(conn, env.EnvelopeID)
			var payload eventsAPIPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			if ev, ok := a.translateEvent(payload.Event); ok {
				a.emit(ev)
			}
		default:
			if env.EnvelopeID != "" {
				a.ack(conn, env.EnvelopeID)
			}
		}
	}
}

func (a *Adapter) ack(conn *websocket.Conn, envelopeID string) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(map[string]string{"envelope_id": envelopeID})
}

// translateEvent maps one Events API event to a platform.Event. The bot's
// own messages and message-edit subtypes are dropped.
func (a *Adapter) translateEvent(raw json.RawMessage) (platform.Event, bool) {
	var ev innerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return platform.Event{}, false
	}

	switch ev.Type {
	case "message":
		if ev.Subtype != "" || ev.BotID != "" || ev.User == a.bot.ID {
			return platform.Event{}, false
		}
		post := platform.Post{
			ID:         postRef(ev.Channel, ev.TS),
			PlatformID: a.id,
			ChannelID:  ev.Channel,
			UserID:     ev.User,
			Message:    ev.Text,
			Timestamp:  tsTime(ev.TS),
		}
		if ev.ThreadTS != "" && ev.ThreadTS != ev.TS {
			post.RootID = postRef(ev.Channel, ev.ThreadTS)
		}
		kind := platform.EventMessage
		if post.RootID == "" {
			kind = platform.EventChannelPost
		}
		return platform.Event{Kind: kind, Post: &post}, true
	case "reaction_added", "reaction_removed":
		if ev.User == a.bot.ID {
			return platform.Event{}, false
		}
		r := platform.Reaction{
			UserID:    ev.User,
			PostID:    postRef(ev.Item.Channel, ev.Item.TS),
			EmojiName: ev.Reaction,
			Timestamp: time.Now(),
		}
		kind := platform.EventReaction
		if ev.Type == "reaction_removed" {
			kind = platform.EventReactionRemoved
		}
		return platform.Event{Kind: kind, Reaction: &r}, true
	}
	return platform.Event{}, false
}

// tsTime converts a Slack ts ("1712345678.000200") to a time.Time,
// dropping the sub-second suffix.
func tsTime(ts string) time.Time {
	var secs int64
	for i := 0; i < len(ts) && ts[i] != '.'; i++ {
		if ts[i] < '0' || ts[i] > '9' {
			return time.Time{}
		}
		secs = secs*10 + int64(ts[i]-'0')
	}
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
