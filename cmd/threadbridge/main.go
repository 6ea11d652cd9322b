// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/threadbridge/threadbridge/internal/app"
	"github.com/threadbridge/threadbridge/internal/config"
)

var (
	version = "0.9"
)

func main() {
	var (
		configPath       string
		showVersion      bool
		debug            bool
		skipPermissions  bool
		noSkipPerms      bool
		chrome           bool
		noChrome         bool
		keepAlive        bool
		noKeepAlive      bool
		worktreeMode     string
		skipVersionCheck bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&skipPermissions, "skip-permissions", false, "Run children with permissions auto-approved")
	flag.BoolVar(&noSkipPerms, "no-skip-permissions", false, "Run children with interactive permission prompts")
	flag.BoolVar(&chrome, "chrome", false, "Enable browser tooling in children")
	flag.BoolVar(&noChrome, "no-chrome", false, "Disable browser tooling in children")
	flag.BoolVar(&keepAlive, "keep-alive", false, "Set session.keep_alive to true (idle pauses leave children running either way)")
	flag.BoolVar(&noKeepAlive, "no-keep-alive", false, "Set session.keep_alive to false (idle pauses leave children running either way)")
	flag.StringVar(&worktreeMode, "worktree-mode", "", "Worktree mode: off|prompt|require (overrides config)")
	flag.BoolVar(&skipVersionCheck, "skip-version-check", false, "Disable the binary watch that drives update prompts")
	flag.Parse()

	if showVersion {
		fmt.Printf("threadbridge %s\n", version)
		os.Exit(0)
	}

	if worktreeMode != "" && worktreeMode != "off" && worktreeMode != "prompt" && worktreeMode != "require" {
		log.Fatalf("Error: invalid -worktree-mode %q (want off|prompt|require)", worktreeMode)
	}

	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	opts := app.Options{
		ConfigPath:       configPath,
		Debug:            debug,
		Version:          version,
		WorktreeMode:     worktreeMode,
		SkipVersionCheck: skipVersionCheck,
	}
	if skipPermissions || noSkipPerms {
		v := skipPermissions && !noSkipPerms
		opts.SkipPermissions = &v
	}
	if chrome || noChrome {
		v := chrome && !noChrome
		opts.Chrome = &v
	}
	if keepAlive || noKeepAlive {
		v := keepAlive && !noKeepAlive
		opts.KeepAlive = &v
	}
	application, err := app.New(opts)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
}
