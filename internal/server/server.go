// Package server exposes the cache's operational HTTP surface: statistics,
// health, Prometheus metrics and manual invalidation.
package server

import (
	"context"
	"net/http"
	"time"

	"tiercache/internal/common/logging"
)

// Server wraps the operations HTTP server lifecycle.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server instance for the given handler and port.
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("operations server listening", logging.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("operations server failed", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
