// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the bridge together: config, log sink, event bus,
// registries, the session manager, platform adapters, the admin API, and
// the auto-updater, plus signal handling for orderly shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/threadbridge/threadbridge/internal/adminapi"
	"github.com/threadbridge/threadbridge/internal/command"
	"github.com/threadbridge/threadbridge/internal/config"
	"github.com/threadbridge/threadbridge/internal/events"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/platform"
	"github.com/threadbridge/threadbridge/internal/platform/mattermost"
	"github.com/threadbridge/threadbridge/internal/platform/slack"
	"github.com/threadbridge/threadbridge/internal/registry"
	"github.com/threadbridge/threadbridge/internal/sessionmanager"
	"github.com/threadbridge/threadbridge/internal/store"
	"github.com/threadbridge/threadbridge/internal/update"
	"github.com/threadbridge/threadbridge/internal/worktree"
)

// Options configures an App instance from the CLI surface.
type Options struct {
	ConfigPath string
	Debug      bool
	Version    string

	// CLI overrides; nil leaves the config value in place.
	SkipPermissions *bool
	Chrome          *bool
	KeepAlive       *bool
	WorktreeMode    string

	// SkipVersionCheck disables the binary watch that drives the
	// update-available prompt.
	SkipVersionCheck bool
}

// App owns the assembled bridge.
type App struct {
	cfg      config.Config
	log      logsink.Sink
	ring     *logsink.Ring
	bus      events.EventBus
	manager  *sessionmanager.Manager
	admin    *adminapi.Server
	updater  *update.AutoUpdateManager
	adapters []platform.Adapter

	skipVersionCheck bool

	stopCh chan struct{}
}

// New loads configuration and assembles the bridge without connecting
// anything yet.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, opts)
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{
		cfg:              *cfg,
		skipVersionCheck: opts.SkipVersionCheck,
		stopCh:           make(chan struct{}),
	}

	// The ring sink backs the admin dashboard's recent-log feed; with the
	// admin API off a plain stderr sink is enough.
	if cfg.AdminAPI.Enabled {
		app.ring = logsink.NewRing(500, opts.Debug)
		app.log = app.ring
	} else {
		app.log = logsink.NewStandard(opts.Debug)
	}

	app.bus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    24 * time.Hour,
		Log:              app.log,
	})

	cmdReg := command.NewRegistry()
	for _, c := range command.DefaultTable() {
		cmdReg.Register(c)
	}
	overlay, err := config.LoadCommandsOverlay(cfg.CommandsFile)
	if err != nil {
		return nil, err
	}
	for _, row := range overlay {
		cmdReg.Register(command.Command{
			Name:        row.Name,
			Description: row.Description,
			ArgsSpec:    row.ArgsSpec,
			Audience:    command.AudienceUser,
		})
	}

	homeDir, _ := os.UserHomeDir()
	worktreeRoot := cfg.Worktree.Root
	if worktreeRoot == "" && homeDir != "" {
		worktreeRoot = filepath.Join(homeDir, ".threadbridge", "worktrees")
	}

	bus := app.bus
	wtCfg := cfg.Worktree
	log := app.log
	worktreeFactory := func(repoRoot string) worktree.Manager {
		return worktree.NewManager(worktree.NewGitCLI(), bus, wtCfg, repoRoot, worktreeRoot, filepath.Base(repoRoot))
	}
	if cfg.Session.WorktreeMode == config.WorktreeOff {
		worktreeFactory = nil
	}

	app.manager = sessionmanager.New(sessionmanager.Options{
		Config:          *cfg,
		Log:             log,
		Registry:        registry.New(),
		Store:           store.New(cfg.Server.SessionsFile),
		CommandRegistry: cmdReg,
		ChildBinary:     cfg.Update.BinaryPath,
		HomeDir:         homeDir,
		WorktreeFactory: worktreeFactory,
		KillRequested:   app.Stop,
		UpdateRequested: app.Stop,
	})

	for i := range cfg.Platforms {
		p := &cfg.Platforms[i]
		if !p.IsEnabled() {
			continue
		}
		adapter, err := buildAdapter(p, *cfg, app.log)
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", p.ID, err)
		}
		app.adapters = append(app.adapters, adapter)
		app.manager.RegisterPlatform(adapter)
	}
	if len(app.adapters) == 0 {
		return nil, fmt.Errorf("no enabled platforms configured")
	}

	if cfg.AdminAPI.Enabled {
		app.admin = adminapi.NewServer(adminapi.ServerConfig{
			Host:          cfg.AdminAPI.Host,
			Port:          cfg.AdminAPI.Port,
			TailscaleCert: cfg.AdminAPI.TailscaleCert,
		}, adminapi.Dependencies{
			Manager: app.manager,
			Bus:     app.bus,
			LogRing: app.ring,
			Log:     app.log,
			Version: opts.Version,
		})
	}

	return app, nil
}

func applyOverrides(cfg *config.Config, opts Options) {
	if opts.SkipPermissions != nil {
		if *opts.SkipPermissions {
			cfg.Session.PermissionsMode = config.PermissionsAuto
		} else {
			cfg.Session.PermissionsMode = config.PermissionsInteractive
		}
	}
	if opts.Chrome != nil {
		cfg.Session.Chrome = *opts.Chrome
	}
	if opts.KeepAlive != nil {
		cfg.Session.KeepAlive = *opts.KeepAlive
	}
	if opts.WorktreeMode != "" {
		cfg.Session.WorktreeMode = config.WorktreeMode(opts.WorktreeMode)
	}
}

func buildAdapter(p *config.PlatformConfig, cfg config.Config, log logsink.Sink) (platform.Adapter, error) {
	backoff := time.Duration(cfg.Session.ReconnectBackoffBaseMs) * time.Millisecond
	heartbeatInterval := time.Duration(cfg.Session.HeartbeatIntervalMs) * time.Millisecond
	heartbeatTimeout := time.Duration(cfg.Session.HeartbeatTimeoutMs) * time.Millisecond

	switch p.Kind {
	case config.PlatformSlack:
		return slack.New(slack.Options{
			ID:                   p.ID,
			BotToken:             p.Token,
			AppToken:             p.AppToken,
			AllowedUsers:         p.AllowedUsers,
			ReconnectBackoffBase: backoff,
			ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
			HeartbeatInterval:    heartbeatInterval,
			HeartbeatTimeout:     heartbeatTimeout,
		}, log), nil
	case config.PlatformMattermost:
		return mattermost.New(mattermost.Options{
			ID:                   p.ID,
			URL:                  strings.TrimSuffix(p.URL, "/"),
			Token:                p.Token,
			TeamID:               p.TeamID,
			AllowedUsers:         p.AllowedUsers,
			ReconnectBackoffBase: backoff,
			ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
			HeartbeatInterval:    heartbeatInterval,
			HeartbeatTimeout:     heartbeatTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown platform kind %q", p.Kind)
	}
}

// Initialize starts persistence resume, connects every adapter, begins
// routing their events, and starts the auto-updater and admin listener.
func (app *App) Initialize(ctx context.Context) error {
	if err := app.manager.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	for _, adapter := range app.adapters {
		if err := adapter.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", adapter.ID(), err)
		}
		go app.pumpEvents(adapter)
		app.log.Infof("app", "connected platform %s", adapter.ID())
	}

	if app.cfg.Update.BinaryPath != "" && !app.skipVersionCheck {
		debounce := config.ParseDuration(app.cfg.Update.CheckInterval, time.Hour)
		// The debounce only coalesces bursts; a long check interval is not
		// useful there, so cap it.
		if debounce > 5*time.Second {
			debounce = 5 * time.Second
		}
		updater, err := update.NewAutoUpdateManager(app.bus, app.cfg.Update.BinaryPath, debounce)
		if err != nil {
			app.log.Warnf("app", "auto-update watcher disabled: %v", err)
		} else {
			app.updater = updater
			_, err := app.bus.Subscribe(events.EventUpdateAvailable, func(ctx context.Context, ev events.Event) error {
				version, _ := ev.Payload["newSha"].(string)
				if len(version) > 12 {
					version = version[:12]
				}
				app.manager.NotifyUpdateAvailable(ctx, version)
				return nil
			})
			if err != nil {
				app.log.Warnf("app", "subscribe update events: %v", err)
			}
		}
	}

	if app.admin != nil {
		go func() {
			if err := app.admin.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
				app.log.Errorf("app", "admin api: %v", err)
			}
		}()
	}
	return nil
}

// pumpEvents forwards one adapter's event stream into the session
// manager until the stream closes or the app stops.
func (app *App) pumpEvents(adapter platform.Adapter) {
	ctx := context.Background()
	for {
		select {
		case <-app.stopCh:
			return
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case platform.EventConnected:
				_ = app.bus.Publish(ctx, events.Event{Type: events.EventPlatformConnected, Scope: adapter.ID()})
			case platform.EventDisconnected:
				_ = app.bus.Publish(ctx, events.Event{Type: events.EventPlatformDisconnected, Scope: adapter.ID()})
			case platform.EventReconnecting:
				_ = app.bus.Publish(ctx, events.Event{Type: events.EventPlatformReconnecting, Scope: adapter.ID(), Payload: map[string]interface{}{"attempt": ev.Attempt}})
			}
			app.manager.RouteEvent(ctx, adapter.ID(), ev)
		}
	}
}

// Run initializes the bridge and blocks until SIGINT/SIGTERM, then shuts
// down.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		app.log.Infof("app", "received signal %v, shutting down", sig)
	case <-app.stopCh:
	case <-ctx.Done():
	}
	return app.Shutdown(context.Background())
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	select {
	case <-app.stopCh:
	default:
		close(app.stopCh)
	}
}

// Shutdown tears the bridge down in dependency order.
func (app *App) Shutdown(ctx context.Context) error {
	app.Stop()

	if err := app.manager.Shutdown(ctx); err != nil {
		app.log.Warnf("app", "session manager shutdown: %v", err)
	}
	if app.admin != nil {
		if err := app.admin.Shutdown(ctx); err != nil {
			app.log.Warnf("app", "admin api shutdown: %v", err)
		}
	}
	if app.updater != nil {
		_ = app.updater.Close()
	}
	return app.bus.Close()
}
