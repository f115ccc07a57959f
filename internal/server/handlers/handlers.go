// Package handlers implements HTTP request handlers for the agroflow API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/agroflow-systems/agroflow/internal/warehouse"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	wh     warehouse.Warehouse
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(wh warehouse.Warehouse) *Handlers {
	return &Handlers{
		wh:     wh,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
