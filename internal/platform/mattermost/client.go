// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mattermost implements platform.Adapter for Mattermost, using
// the v4 REST API for messaging and the v4 WebSocket for the event
// stream.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"
)

// maxAPIAttempts bounds the rate-limit retry loop on one REST call.
const maxAPIAttempts = 5

// restClient is a minimal Mattermost v4 REST client: bearer-token auth
// plus a cookie jar, since the server also issues a session cookie that
// some deployments' proxies require on subsequent calls.
type restClient struct {
	httpClient *http.Client
	baseURL    string // server URL without the /api/v4 suffix
	token      string
}

func newRESTClient(serverURL, token string) (*restClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &restClient{
		httpClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
		baseURL:    serverURL,
		token:      token,
	}, nil
}

// apiError is the v4 error body.
type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// do performs one REST call, decoding a 2xx response into out. A 429 is
// retried after the advertised Retry-After, up to maxAPIAttempts.
func (c *restClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	for attempt := 0; attempt < maxAPIAttempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v4"+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s %s: read response: %w", method, path, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var apiErr apiError
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
				return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Message, resp.StatusCode)
			}
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("%s %s: parse response: %w", method, path, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s %s: rate limited after %d attempts", method, path, maxAPIAttempts)
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(header)
	if err != nil {
		return time.Second
	}
	if secs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(secs) * time.Second
}

// download fetches a raw file body.
func (c *restClient) download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v4"+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// mmPost is the v4 post shape, reduced to the fields the bridge reads.
type mmPost struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	RootID    string `json:"root_id"`
	CreateAt  int64  `json:"create_at"` // epoch millis
}

// mmUser is the v4 user shape, reduced likewise.
type mmUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// mmFileInfo is the v4 file-info shape, reduced likewise.
type mmFileInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
}

func millisTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
