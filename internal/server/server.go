// Package server implements the agroflow HTTP API: read-only access to the
// batch audit ledger and the warehouse dimensions, plus the expvar metrics
// endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agroflow-systems/agroflow/internal/warehouse"
)

// Server is the agroflow HTTP API server.
type Server struct {
	wh     warehouse.Warehouse
	router chi.Router
	addr   string
	log    *slog.Logger
	srv    *http.Server
}

// New creates a new HTTP server. An empty apiKey disables authentication;
// maxBody 0 uses the 1MB default.
func New(addr string, wh warehouse.Warehouse, apiKey string, maxBody int64, log *slog.Logger) *Server {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		wh:   wh,
		addr: addr,
		log:  log,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyMiddleware(maxBody))
	r.Use(APIKeyMiddleware(apiKey))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
