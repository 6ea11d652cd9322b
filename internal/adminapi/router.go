// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adminapi

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tailscale/tscert"
	"github.com/valyala/bytebufferpool"

	"github.com/threadbridge/threadbridge/internal/adminapi/views"
	"github.com/threadbridge/threadbridge/internal/events"
	"github.com/threadbridge/threadbridge/internal/logsink"
	"github.com/threadbridge/threadbridge/internal/sessionmanager"
)

// ServerConfig holds configuration for the admin server.
type ServerConfig struct {
	Host          string
	Port          int
	TailscaleCert bool // serve TLS via the local Tailscale daemon's cert
}

// Dependencies holds all dependencies for admin handlers.
type Dependencies struct {
	Manager *sessionmanager.Manager
	Bus     events.EventBus
	LogRing *logsink.Ring // nil when running with a plain stderr sink
	Log     logsink.Sink
	Version string
}

// NewRouter creates the admin router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(logging(deps.Log))
	r.Use(recovery(deps.Log))

	r.HandleFunc("/healthz", healthHandler(deps)).Methods("GET")
	r.HandleFunc("/", dashboardHandler(deps)).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionHandler := NewSessionHandler(deps.Manager)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions/{platform}/{thread}/resume", sessionHandler.Resume).Methods("POST")
	api.HandleFunc("/sessions/{platform}/{thread}/pause", sessionHandler.Pause).Methods("POST")

	eventHandler := NewEventHandler(deps.Bus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	if deps.LogRing != nil {
		logHandler := NewLogHandler(deps.LogRing)
		api.HandleFunc("/logs", logHandler.Recent).Methods("GET")
	}

	return r
}

func healthHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Manager.Snapshot()
		WriteJSON(w, http.StatusOK, HealthStatus{
			Status:         "ok",
			Version:        deps.Version,
			ActiveSessions: deps.Manager.ActiveCount(),
			Platforms:      snap.PlatformEnabled,
		})
	}
}

// dashboardHandler renders the read-only HTML dashboard. The page is
// rendered into a pooled buffer so a slow client never holds a
// half-rendered template writer.
func dashboardHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Manager.Snapshot()
		data := &views.DashboardData{
			Version:        deps.Version,
			ActiveSessions: deps.Manager.ActiveCount(),
		}
		for _, rec := range snap.Sessions {
			row := views.SessionRow{
				Platform:       rec.PlatformID,
				Thread:         rec.ThreadID,
				WorkingDir:     rec.WorkingDir,
				StartedBy:      rec.StartedBy,
				LastActivityAt: rec.LastActivityAt.Format(time.RFC3339),
				State:          rec.LifecycleState,
				Title:          rec.SessionTitle,
			}
			if rec.WorktreeInfo != nil {
				row.Branch = rec.WorktreeInfo.Branch
			}
			data.Sessions = append(data.Sessions, row)
		}
		if history, err := deps.Bus.History(events.EventFilter{Limit: 25}); err == nil {
			for _, ev := range history {
				data.Events = append(data.Events, views.EventRow{
					Timestamp: ev.Timestamp.Format(time.RFC3339),
					Type:      ev.Type,
					Scope:     ev.Scope,
				})
			}
		}

		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		views.WriteDashboard(buf, data)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.B)
	}
}

// Server represents the admin server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	log    logsink.Sink
	server *http.Server
}

// NewServer creates an admin server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
		log:    deps.Log,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. With TailscaleCert enabled, TLS
// certificates come from the local Tailscale daemon.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.cfg.TailscaleCert {
		s.server.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		s.log.Infof("adminapi", "listening on https://%s (tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	s.log.Infof("adminapi", "listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
