package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the router in an http.Server with sane timeouts.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates the API server around a prepared router.
func NewServer(handler http.Handler) *Server {
	return &Server{handler: handler}
}

// ListenAndServe starts the HTTP server and blocks until it stops.
// WriteTimeout stays generous because chat turns stream over long-lived
// WebSocket connections sharing this listener.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
