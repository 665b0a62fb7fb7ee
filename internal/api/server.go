// Package api exposes the follower's command surface over HTTP.
//
// It is a thin layer: every route maps onto one engine command or one
// read-only snapshot. The GUI shell that the original product ships is
// out of scope; anything that can POST JSON can drive the engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"follow-trader/internal/config"
	"follow-trader/internal/follow"
)

// Server runs the HTTP command API.
type Server struct {
	cfg      config.APIConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes onto an engine.
func NewServer(cfg config.APIConfig, engine *follow.Engine, logger *slog.Logger) *Server {
	handlers := NewHandlers(engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/status", handlers.HandleStatus)
	mux.HandleFunc("GET /api/positions", handlers.HandlePositions)
	mux.HandleFunc("GET /api/params", handlers.HandleParams)
	mux.HandleFunc("POST /api/start", handlers.HandleStart)
	mux.HandleFunc("POST /api/stop", handlers.HandleStop)
	mux.HandleFunc("POST /api/params", handlers.HandleSetParameter)
	mux.HandleFunc("POST /api/positions", handlers.HandleSetPosition)
	mux.HandleFunc("POST /api/sync", handlers.HandleSync)
	mux.HandleFunc("POST /api/close-hedged", handlers.HandleCloseHedged)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("command server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping command server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
