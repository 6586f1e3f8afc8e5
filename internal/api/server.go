// Package api serves the dashboard HTTP/WebSocket surface.
//
// The surface is thin: JSON projections of store snapshots, intent
// submission with API-key auth and idempotency, and a push-only
// WebSocket relay of bus events. All domain decisions live in the
// services; handlers only translate HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"colosseum/internal/agent"
	"colosseum/internal/alerts"
	"colosseum/internal/bus"
	"colosseum/internal/config"
	"colosseum/internal/intent"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg         config.DashboardConfig
	hub         *Hub
	handlers    *Handlers
	server      *http.Server
	clk         clock.Clock
	unsubscribe func()
	logger      *slog.Logger
}

// NewServer wires the API server. Events published on b are relayed to
// WebSocket clients once Start is called.
func NewServer(cfg config.DashboardConfig, store *state.Store, b *bus.Bus, agents *agent.Service, intents *intent.Service, al *alerts.Service, clk clock.Clock, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(store, agents, intents, al, clk, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("POST /api/agents", handlers.HandleRegisterAgent)
	mux.HandleFunc("GET /api/agents", handlers.HandleListAgents)
	mux.HandleFunc("POST /api/intents", handlers.HandleCreateIntent)
	mux.HandleFunc("GET /api/intents/{id}", handlers.HandleGetIntent)
	mux.HandleFunc("POST /api/alerts", handlers.HandleCreateAlert)
	mux.HandleFunc("GET /api/alerts", handlers.HandleListAlerts)
	mux.HandleFunc("DELETE /api/alerts/{id}", handlers.HandleDeleteAlert)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	srv := &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		clk:      clk,
		logger:   logger.With("component", "api-server"),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	// Relay every bus event to the dashboard stream. Async so a slow
	// dashboard can never slow a transaction's event delivery.
	srv.unsubscribe = b.OnAsync(bus.Wildcard, 256, func(event string, data any) {
		hub.BroadcastEvent(DashboardEvent{
			Type:      event,
			Timestamp: clk.Now(),
			Data:      data,
		})
	})

	return srv
}

// Start runs the hub and the HTTP listener. Blocks until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop detaches from the bus and shuts the listener down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	s.unsubscribe()
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
