package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

const defaultBatchLimit = 50

// ListBatches returns recent audit ledger rows, newest first. The window is
// narrowed with ?since=RFC3339 and ?limit=N.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		since = t
	}

	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	batches, err := h.wh.ListAudits(r.Context(), since, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list batches", err)
		return
	}
	if batches == nil {
		batches = []types.AuditRecord{}
	}
	h.writeJSON(w, http.StatusOK, batches)
}

// GetBatch returns a single audit ledger row.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	rec, err := h.wh.GetAudit(r.Context(), batchID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load batch", err)
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "batch not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}
