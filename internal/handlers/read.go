package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/profullstack/qryptchat-web-sub004/internal/api/middleware"
	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// MarkReadRequest moves the caller's read horizon forward.
type MarkReadRequest struct {
	UpToMessageID string `json:"up_to_message_id"`
}

// MarkReadResponse reports how many deliveries transitioned.
type MarkReadResponse struct {
	MarkedRead int64 `json:"marked_read"`
}

// MarkRead bulk-transitions the caller's deliveries DELIVERED -> READ up to
// and including a message id. For read-start expiry policies this is the
// moment the disappearing timer begins — exactly once; re-reading never
// moves expires_at.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
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

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UpToMessageID == "" {
		h.Error(w, http.StatusBadRequest, "up_to_message_id is required")
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

	now := nowUTC()
	var expiresAt *time.Time
	if policy.Enabled() && policy.StartOn == models.StartOnRead {
		t := now.Add(policy.Disappear())
		expiresAt = &t
	}

	count, err := h.store.MarkRead(r.Context(), roomID, user, req.UpToMessageID, now, expiresAt)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	metrics.DeliveriesRead.Add(float64(count))

	if count > 0 {
		if _, err := h.reg.BroadcastToRoom(roomID, registry.EventMessagesRead, registry.ReadPayload{
			RoomID:        roomID,
			UserID:        user,
			UpToMessageID: req.UpToMessageID,
		}, &user); err != nil {
			h.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("read broadcast failed")
		}
	}

	h.JSON(w, http.StatusOK, MarkReadResponse{MarkedRead: count})
}
