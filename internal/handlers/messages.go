package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/profullstack/qryptchat-web-sub004/internal/api/middleware"
	"github.com/profullstack/qryptchat-web-sub004/internal/fanout"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

const maxPlaintextBytes = 4096

// SendMessageRequest is the plaintext submission. The body never touches
// disk: it exists only long enough to be sealed per recipient.
type SendMessageRequest struct {
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

// SendMessageResponse acknowledges an accepted fan-out.
type SendMessageResponse struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"ts"`
}

// ListMessagesResponse carries the caller's own encrypted copies.
type ListMessagesResponse struct {
	Messages []store.EncryptedMessage `json:"messages"`
	HasMore  bool                     `json:"has_more"`
}

// SendMessage accepts plaintext, fans it out, and notifies connected room
// members. Senders see success or failure of the whole send; partial
// fan-out is never visible.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sender := middleware.GetUserFromContext(r.Context())
	if sender == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Body == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(req.Body) > maxPlaintextBytes {
		h.Error(w, http.StatusUnprocessableEntity, "body too long (max 4096 bytes)")
		return
	}

	contentType := models.ContentText
	if req.ContentType != "" {
		contentType = models.ContentType(req.ContentType)
	}
	if !contentType.Valid() || contentType == models.ContentDeleted {
		h.Error(w, http.StatusBadRequest, "invalid content_type")
		return
	}

	msg, err := h.encoder.Send(r.Context(), roomID, sender, []byte(req.Body), contentType)
	if err != nil {
		switch {
		case errors.Is(err, fanout.ErrSenderNotParticipant):
			h.Error(w, http.StatusForbidden, "not a participant of this room")
		case errors.Is(err, fanout.ErrEmptyRoom):
			h.Error(w, http.StatusNotFound, "room has no participants")
		default:
			h.logger.Error().Err(err).Str("room_id", roomID.String()).Msg("fanout failed")
			h.Error(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	// Lightweight pointer only; recipients pull their own copy.
	if _, err := h.reg.BroadcastToRoom(roomID, registry.EventNewMessage, registry.NewMessagePayload{
		MessageID: msg.ID,
		RoomID:    roomID,
		SenderID:  sender,
	}, &sender); err != nil {
		h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("broadcast failed")
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		ID:        msg.ID,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	})
}

// ListMessages is the pull path: the caller's live encrypted copies in a
// room, ascending by message id.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
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

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 200 {
		limit = 200
	}
	since := r.URL.Query().Get("since")

	// +1 for has_more check
	messages, err := h.store.ListEncryptedMessages(r.Context(), roomID, user, since, limit+1)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []store.EncryptedMessage{}
	}

	h.JSON(w, http.StatusOK, ListMessagesResponse{Messages: messages, HasMore: hasMore})
}

// DeleteMessage tombstones the caller's own delivery of one message. The
// copy disappears for the caller only; other recipients keep theirs.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if messageID == "" {
		h.Error(w, http.StatusBadRequest, "message ID is required")
		return
	}

	delivery, err := h.store.GetDelivery(r.Context(), messageID, user)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if delivery == nil {
		h.Error(w, http.StatusNotFound, "no delivery for this message")
		return
	}

	updated, err := h.store.TombstoneDelivery(r.Context(), messageID, user, models.ReasonManual, nowUTC())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	// Already terminal is fine: the transition is idempotent.
	h.JSON(w, http.StatusOK, map[string]bool{"deleted": updated})
}
