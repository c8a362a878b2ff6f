package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/profullstack/qryptchat-web-sub004/internal/api/middleware"
	"github.com/profullstack/qryptchat-web-sub004/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsCommand is an inbound client frame. Everything a client can say over
// the socket is a routing command; plaintext submission rides the HTTP
// send path where it can be rejected atomically.
type wsCommand struct {
	Type   string    `json:"type"`
	RoomID uuid.UUID `json:"room_id"`
}

const (
	cmdJoinRoom  = "join_room"
	cmdLeaveRoom = "leave_room"
	cmdTyping    = "typing"
)

// Connect upgrades the request and registers the connection. Disconnect
// (transport close or abort) unregisters synchronously via the read pump.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == uuid.Nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := registry.NewClient(user, conn, h.wsCfg)
	if err := h.reg.Register(client); err != nil {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(h.reg, h.handleCommand)
}

// handleCommand routes one inbound frame. Unknown or malformed frames are
// dropped: a misbehaving client degrades itself, never the room.
func (h *Handler) handleCommand(client *registry.Client, message []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		h.logger.Debug().
			Str("connection_id", client.ID.String()).
			Msg("dropping malformed frame")
		return
	}
	if cmd.RoomID == uuid.Nil {
		return
	}

	switch cmd.Type {
	case cmdJoinRoom:
		// The durable participant list stays authoritative: only actual
		// participants enter the broadcast map.
		if _, err := h.store.GetExpiryPolicy(context.Background(), cmd.RoomID, client.UserID); err != nil {
			h.logger.Debug().
				Str("user_id", client.UserID.String()).
				Str("room_id", cmd.RoomID.String()).
				Msg("join refused: not a participant")
			return
		}
		h.reg.JoinRoom(client.UserID, cmd.RoomID)

	case cmdLeaveRoom:
		h.reg.LeaveRoom(client.UserID, cmd.RoomID)

	case cmdTyping:
		if _, err := h.reg.BroadcastToRoom(cmd.RoomID, registry.EventUserTyping, registry.TypingPayload{
			RoomID: cmd.RoomID,
			UserID: client.UserID,
		}, &client.UserID); err != nil {
			h.logger.Warn().Err(err).Msg("typing broadcast failed")
		}

	default:
		h.logger.Debug().
			Str("type", cmd.Type).
			Str("connection_id", client.ID.String()).
			Msg("unknown command type")
	}
}
