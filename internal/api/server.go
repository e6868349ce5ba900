// Package api serves the read-only dashboard: REST endpoints for the
// live engine snapshot and the store-backed performance overview, plus a
// WebSocket stream of engine events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/store"
)

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	events   <-chan DashboardEvent
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires routes, the stream hub, and the engine event feed.
// events may be nil; the REST endpoints work without a stream.
func NewServer(cfg config.DashboardConfig, provider SnapshotProvider, st *store.Store, events <-chan DashboardEvent, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, st, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/overview", handlers.HandleOverview)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		events:   events,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the hub, the event consumer, and the HTTP listener.
// Blocks until the server shuts down.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, draining in-flight requests.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents forwards engine events to the WebSocket hub until the
// engine closes the channel.
func (s *Server) consumeEvents() {
	if s.events == nil {
		return
	}
	for evt := range s.events {
		s.hub.BroadcastEvent(evt)
	}
}
