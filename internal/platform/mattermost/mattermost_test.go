// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
)

func testAdapter(t *testing.T, serverURL string) *Adapter {
	t.Helper()
	a, err := New(Options{
		ID:           "mattermost",
		URL:          serverURL,
		Token:        "token-test",
		AllowedUsers: []string{"u_owner"},
	}, logsink.NewStandard(false))
	require.NoError(t, err)
	a.bot = platform.BotIdentity{ID: "u_bot", Name: "bridge"}
	return a
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://chat.example.com/api/v4/websocket", wsURL("https://chat.example.com"))
	assert.Equal(t, "ws://localhost:8065/api/v4/websocket", wsURL("http://localhost:8065"))
}

func TestTranslatePosted(t *testing.T) {
	a := testAdapter(t, "http://localhost")

	post := `{"id":"p1","channel_id":"c1","user_id":"u1","message":"hello","root_id":"r1","create_at":1712345678000}`
	ev, ok := a.translatePosted(map[string]interface{}{"post": post})
	require.True(t, ok)
	assert.Equal(t, platform.EventMessage, ev.Kind)
	assert.Equal(t, "p1", ev.Post.ID)
	assert.Equal(t, "r1", ev.Post.RootID)
	assert.Equal(t, int64(1712345678), ev.Post.Timestamp.Unix())

	// A top-level post is a channel post.
	post = `{"id":"p2","channel_id":"c1","user_id":"u1","message":"hi","create_at":1}`
	ev, ok = a.translatePosted(map[string]interface{}{"post": post})
	require.True(t, ok)
	assert.Equal(t, platform.EventChannelPost, ev.Kind)

	// The bot's own posts are dropped.
	post = `{"id":"p3","channel_id":"c1","user_id":"u_bot","message":"x","create_at":1}`
	_, ok = a.translatePosted(map[string]interface{}{"post": post})
	assert.False(t, ok)

	// Missing or malformed payloads are dropped.
	_, ok = a.translatePosted(map[string]interface{}{})
	assert.False(t, ok)
	_, ok = a.translatePosted(map[string]interface{}{"post": "{not json"})
	assert.False(t, ok)
}

func TestTranslateReaction(t *testing.T) {
	a := testAdapter(t, "http://localhost")

	reaction := `{"user_id":"u1","post_id":"p1","emoji_name":"+1","create_at":1}`
	ev, ok := a.translateReaction("reaction_added", map[string]interface{}{"reaction": reaction})
	require.True(t, ok)
	assert.Equal(t, platform.EventReaction, ev.Kind)
	assert.Equal(t, "p1", ev.Reaction.PostID)
	assert.Equal(t, "+1", ev.Reaction.EmojiName)

	ev, ok = a.translateReaction("reaction_removed", map[string]interface{}{"reaction": reaction})
	require.True(t, ok)
	assert.Equal(t, platform.EventReactionRemoved, ev.Kind)

	// The bot's own reactions are dropped.
	reaction = `{"user_id":"u_bot","post_id":"p1","emoji_name":"+1"}`
	_, ok = a.translateReaction("reaction_added", map[string]interface{}{"reaction": reaction})
	assert.False(t, ok)
}

func TestMentionsBotAndExtractPrompt(t *testing.T) {
	a := testAdapter(t, "http://localhost")

	post := platform.Post{Message: "@bridge fix the build"}
	assert.True(t, a.MentionsBot(post))
	assert.Equal(t, "fix the build", a.ExtractPrompt(post))

	assert.False(t, a.MentionsBot(platform.Post{Message: "nothing here"}))
}

func TestCreatePostThreads(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/posts", r.URL.Path)
		require.Equal(t, "Bearer token-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(mmPost{ID: "p9", ChannelID: got["channel_id"], RootID: got["root_id"], Message: got["message"], CreateAt: 1000})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	post, err := a.CreatePost(context.Background(), "c1", "r1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "p9", post.ID)
	assert.Equal(t, "r1", got["root_id"])
}

func TestThreadHistoryOrdersAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/posts/r1/thread", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"order": []string{"r1", "p2", "p3"},
			"posts": map[string]mmPost{
				"r1": {ID: "r1", ChannelID: "c1", UserID: "u1", Message: "root"},
				"p2": {ID: "p2", ChannelID: "c1", UserID: "u_bot", Message: "bot reply", RootID: "r1"},
				"p3": {ID: "p3", ChannelID: "c1", UserID: "u2", Message: "reply", RootID: "r1"},
			},
		})
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	posts, err := a.ThreadHistory(context.Background(), "r1", 0, true)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "r1", posts[0].ID)
	assert.Equal(t, "p3", posts[1].ID)
}

func TestDoRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := newRESTClient(srv.URL, "token-test")
	require.NoError(t, err)
	require.NoError(t, c.do(context.Background(), http.MethodPost, "/posts/p1/pin", nil, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(apiError{ID: "store.sql_post.get.app_error", Message: "Unable to get the post"})
	}))
	defer srv.Close()

	c, err := newRESTClient(srv.URL, "token-test")
	require.NoError(t, err)
	err = c.do(context.Background(), http.MethodGet, "/posts/p1", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to get the post")
}
