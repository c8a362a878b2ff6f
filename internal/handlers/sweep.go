package handlers

import (
	"net/http"
)

// RunSweep triggers one expiry sweep on demand and returns its summary.
// The same two phases run on the background ticker; this endpoint exists
// for operations and tests.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary := h.sweeper.Sweep(r.Context())
	h.JSON(w, http.StatusOK, summary)
}
