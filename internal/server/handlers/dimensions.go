package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// ListCrops returns the crop dimension with the extracted requirements.
func (h *Handlers) ListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := h.wh.ListCrops(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list crops", err)
		return
	}
	if crops == nil {
		crops = []types.CropRow{}
	}
	h.writeJSON(w, http.StatusOK, crops)
}

// LocationVersions returns the full SCD2 version history of one location,
// oldest first.
func (h *Handlers) LocationVersions(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "locationHash")
	versions, err := h.wh.LocationVersions(r.Context(), hash)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load location history", err)
		return
	}
	if len(versions) == 0 {
		h.writeError(w, http.StatusNotFound, "unknown location", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, versions)
}
