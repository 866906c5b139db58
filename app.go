package main

import (
	"context"
	"log/slog"
	"net/http"

	"tailfeed/internal/config"
	"tailfeed/internal/feed"
	"tailfeed/internal/pipeline"
	"tailfeed/internal/registry"
	"tailfeed/internal/store"
)

// App struct holds the application state shared by all HTTP handlers
type App struct {
	ctx      context.Context
	cfg      *config.Config
	log      *slog.Logger
	messages *store.Store
	hub      *feed.Hub
	fanout   *feed.Fanout
	sessions *registry.Registry
	manager  *pipeline.Manager
}

// NewApp wires the application from components constructed in main. The
// context outlives any single request; pipelines started from handlers are
// bound to it rather than to the request.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, messages *store.Store, hub *feed.Hub, fanout *feed.Fanout, sessions *registry.Registry, manager *pipeline.Manager) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		ctx:      ctx,
		cfg:      cfg,
		log:      logger.With("component", "http"),
		messages: messages,
		hub:      hub,
		fanout:   fanout,
		sessions: sessions,
		manager:  manager,
	}
}

// =============================================================================
// ROUTES
// =============================================================================

// routes builds the HTTP route table.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", a.handleHealth)

	// Session registry
	mux.HandleFunc("POST /api/sessions", a.handleRegisterSession)
	mux.HandleFunc("GET /api/sessions", a.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.handleUnregisterSession)

	// Tail lifecycle
	mux.HandleFunc("POST /api/sessions/{id}/tail", a.handleStartTail)
	mux.HandleFunc("DELETE /api/sessions/{id}/tail", a.handleStopTail)

	// Stored messages
	mux.HandleFunc("GET /api/sessions/{id}/messages", a.handleReadMessages)
	mux.HandleFunc("GET /api/sessions/{id}/messages/latest", a.handleLatestMessages)
	mux.HandleFunc("DELETE /api/sessions/{id}/messages", a.handleClearMessages)
	mux.HandleFunc("GET /api/sessions/{id}/stats", a.handleSessionStats)

	// Live stream
	mux.HandleFunc("GET /api/sessions/{id}/stream", a.handleStream)

	return mux
}

// handleHealth reports service liveness and the number of live tails.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"activeTails": len(a.manager.ActiveSessions()),
	})
}
