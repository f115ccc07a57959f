package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/agroflow-systems/agroflow/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.wh)
	h.SetLogger(s.log)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Batch audit ledger
		r.Get("/batches", h.ListBatches)
		r.Get("/batches/{batchID}", h.GetBatch)

		// Dimensions
		r.Get("/crops", h.ListCrops)
		r.Get("/locations/{locationHash}/versions", h.LocationVersions)
	})

	// Process metrics counters.
	r.Method("GET", "/debug/vars", expvar.Handler())
}
