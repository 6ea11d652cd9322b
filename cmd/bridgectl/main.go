// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// bridgectl is a command-line tool for operating a running threadbridge
// instance over its admin API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/threadbridge/threadbridge/pkg/client"
)

var (
	version    = "0.9"
	apiURL     = "http://localhost:8765"
	jsonOutput = false

	apiClient *client.Client
)

func main() {
	if env := os.Getenv("BRIDGE_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "sessions":
		err = cmdSessions(args)
	case "resume":
		err = cmdResume(args)
	case "pause":
		err = cmdPause(args)
	case "events":
		err = cmdEvents(args)
	case "logs":
		err = cmdLogs(args)
	case "version", "-v", "--version":
		fmt.Printf("bridgectl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bridgectl - Operate a running threadbridge instance

Usage:
  bridgectl [-json] <command> [arguments]

Global Flags:
  -json                      Output raw JSON instead of tables

Commands:
  status                     Show bridge health and platform status
  sessions                   List persisted sessions (active and paused)
  resume <platform> <thread> Force-resume a paused session
  pause <platform> <thread>  Force-pause an active session
  events [limit] [pattern]   Show recent events (default limit 25)
  logs [limit]               Show recent log lines (default limit 50)

Environment:
  BRIDGE_API                 Admin API base URL (default http://localhost:8765)`)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdStatus(args []string) error {
	ctx := context.Background()
	h, err := apiClient.Health(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(h)
	}
	fmt.Printf("status:          %s\n", h.Status)
	fmt.Printf("version:         %s\n", h.Version)
	fmt.Printf("active sessions: %d\n", h.ActiveSessions)
	for id, enabled := range h.Platforms {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("platform %-12s %s\n", id+":", state)
	}
	return nil
}

func cmdSessions(args []string) error {
	ctx := context.Background()
	sessions, err := apiClient.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	fmt.Printf("%-12s %-28s %-10s %-14s %-10s %s\n", "PLATFORM", "THREAD", "STATE", "STARTED BY", "MESSAGES", "LAST ACTIVITY")
	for _, s := range sessions {
		fmt.Printf("%-12s %-28s %-10s %-14s %-10d %s\n",
			s.PlatformID, s.ThreadID, s.LifecycleState, s.StartedBy, s.MessageCount,
			s.LastActivityAt.Format(time.RFC3339))
	}
	return nil
}

func cmdResume(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bridgectl resume <platform> <thread>")
	}
	if err := apiClient.Sessions.Resume(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Resumed %s/%s\n", args[0], args[1])
	return nil
}

func cmdPause(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bridgectl pause <platform> <thread>")
	}
	if err := apiClient.Sessions.Pause(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Paused %s/%s\n", args[0], args[1])
	return nil
}

func cmdEvents(args []string) error {
	opts := &client.EventListOptions{Limit: 25}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		opts.Limit = n
	}
	if len(args) > 1 {
		opts.Types = []string{args[1]}
	}

	events, err := apiClient.Events.List(context.Background(), opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(events)
	}
	for _, e := range events {
		fmt.Printf("%s  %-24s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.Scope)
	}
	return nil
}

func cmdLogs(args []string) error {
	limit := 50
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}

	entries, err := apiClient.Logs.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(entries)
	}
	for _, e := range entries {
		fmt.Printf("%-5s %-16s %s\n", e.Level, e.Component, e.Message)
	}
	return nil
}
