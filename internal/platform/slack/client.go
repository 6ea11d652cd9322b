// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package slack implements platform.Adapter for Slack, using the Web API
// for messaging and Socket Mode for the event stream.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIURL = "https://slack.com/api"

// maxAPIAttempts bounds the rate-limit retry loop on one Web API call.
const maxAPIAttempts = 5

// apiClient is a minimal Slack Web API client: JSON request, envelope
// response with ok/error, bounded retry on HTTP 429.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func newAPIClient(baseURL, token string) *apiClient {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &apiClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// apiEnvelope is the common part of every Web API response.
type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call posts args as JSON to method and decodes the response into out,
// which must embed or duplicate the ok/error envelope fields. A 429 is
// retried after the advertised Retry-After, up to maxAPIAttempts.
func (c *apiClient) call(ctx context.Context, method string, args interface{}, out interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", method, err)
	}

	for attempt := 0; attempt < maxAPIAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
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
			return fmt.Errorf("%s: read response: %w", method, err)
		}

		var env apiEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("%s: parse response: %w", method, err)
		}
		if !env.OK {
			return fmt.Errorf("%s: slack error: %s", method, env.Error)
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("%s: parse response: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s: rate limited after %d attempts", method, maxAPIAttempts)
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

// download fetches a file's url_private with the bot token.
func (c *apiClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// postRef composes the (channel, ts) pair Slack needs to address a message
// into the single opaque post id the core's registry keys on. The ts
// itself contains a dot, so the separator is a colon.
func postRef(channelID, ts string) string {
	return channelID + ":" + ts
}

// splitRef is the inverse of postRef. An id without a separator is
// returned as a bare ts with an empty channel.
func splitRef(postID string) (channelID, ts string) {
	i := strings.IndexByte(postID, ':')
	if i < 0 {
		return "", postID
	}
	return postID[:i], postID[i+1:]
}
