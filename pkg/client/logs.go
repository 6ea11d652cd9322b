// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// LogClient provides access to the bridge's retained log lines.
//
// Access this client through [Client.Logs].
type LogClient struct {
	c *Client
}

// Recent returns the bridge's retained log lines, oldest first. A
// limit of 0 returns everything the ring currently holds.
func (l *LogClient) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	path := "/api/v1/logs"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	data, err := l.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse logs: %w", err)
	}
	return entries, nil
}
