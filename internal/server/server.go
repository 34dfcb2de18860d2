// Package server hosts the engine behind a thin HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server is the HTTP host for the routing engine.
type Server struct {
	router  *chi.Mux
	port    int
	logger  *slog.Logger
	routing Routing
	health  HealthSource

	httpServer *http.Server
}

// New builds the server and its middleware chain.
func New(port int, timeout time.Duration, routing Routing, health HealthSource, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		port:    port,
		logger:  logger,
		routing: routing,
		health:  health,
	}

	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(logger))
	s.router.Use(TimeoutMiddleware(timeout))
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "switchyard")
	})

	s.router.Post("/v1/chat/completions", s.handleChatCompletions)
	s.router.Get("/v1/health", s.handleHealth)

	return s
}

// Handler exposes the routing mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	s.logger.Info("starting server", slog.Int("port", s.port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
