package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/profullstack/qryptchat-web-sub004/internal/api/middleware"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

// UpdateExpiryPolicy sets the caller's disappearing-message policy for a
// room. Malformed policies are rejected here and never reach the ledger.
// Only the participant mutates their own policy.
func (h *Handler) UpdateExpiryPolicy(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	var policy models.ExpiryPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := policy.Validate(); err != nil {
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.store.SetExpiryPolicy(r.Context(), roomID, user, policy); err != nil {
		if errors.Is(err, store.ErrNotParticipant) {
			h.Error(w, http.StatusForbidden, "not a participant of this room")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to update policy")
		return
	}

	h.JSON(w, http.StatusOK, policy)
}

// GetExpiryPolicy returns the caller's current policy for a room.
func (h *Handler) GetExpiryPolicy(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	policy, err := h.store.GetExpiryPolicy(r.Context(), roomID, user)
	if err != nil {
		if errors.Is(err, store.ErrNotParticipant) {
			h.Error(w, http.StatusForbidden, "not a participant of this room")
			return
		}
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, policy)
}
