// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SessionClient provides access to session listing and the force
// pause/resume escape hatches.
//
// Access this client through [Client.Sessions].
type SessionClient struct {
	c *Client
}

// List returns every session record the bridge currently persists,
// active and paused alike.
func (s *SessionClient) List(ctx context.Context) ([]Session, error) {
	data, err := s.c.get(ctx, "/api/v1/sessions")
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	return sessions, nil
}

// Resume force-resumes a paused session, the same transition the
// resume reaction on the session header performs.
func (s *SessionClient) Resume(ctx context.Context, platformID, threadID string) error {
	_, err := s.c.post(ctx, sessionPath(platformID, threadID, "resume"))
	return err
}

// Pause force-pauses an active session, as if the idle sweep had
// timed it out (without posting a timeout notice).
func (s *SessionClient) Pause(ctx context.Context, platformID, threadID string) error {
	_, err := s.c.post(ctx, sessionPath(platformID, threadID, "pause"))
	return err
}

func sessionPath(platformID, threadID, action string) string {
	return "/api/v1/sessions/" + url.PathEscape(platformID) + "/" + url.PathEscape(threadID) + "/" + action
}
