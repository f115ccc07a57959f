package handlers

import "net/http"

// Health returns the server health status. A warehouse that cannot be
// reached degrades the status but does not fail the endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.wh.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
