package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a broadcast envelope. The set is closed; the router
// refuses to serialize an unknown type.
type EventType string

const (
	EventConnected      EventType = "CONNECTED"
	EventNewMessage     EventType = "NEW_MESSAGE"
	EventUserTyping     EventType = "USER_TYPING"
	EventMessagesRead   EventType = "MESSAGES_READ"
	EventMessageExpired EventType = "MESSAGE_EXPIRED"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventConnected, EventNewMessage, EventUserTyping, EventMessagesRead, EventMessageExpired:
		return true
	}
	return false
}

// Envelope is the typed unit pushed over a persistent connection. Payloads
// are informational pointers only — ciphertext never rides a broadcast.
type Envelope struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(t EventType, payload interface{}) Envelope {
	return Envelope{Type: t, Payload: payload, Timestamp: time.Now().UTC()}
}

// Encode serializes the envelope, rejecting unknown event types.
func (e Envelope) Encode() ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return json.Marshal(e)
}

// ConnectedPayload acknowledges a freshly registered connection.
type ConnectedPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	UserID       uuid.UUID `json:"user_id"`
}

// NewMessagePayload points at a freshly fanned-out message. Recipients pull
// their own encrypted copy through the read path.
type NewMessagePayload struct {
	MessageID string    `json:"message_id"`
	RoomID    uuid.UUID `json:"room_id"`
	SenderID  uuid.UUID `json:"sender_id"`
}

// TypingPayload signals a participant typing in a room.
type TypingPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	UserID uuid.UUID `json:"user_id"`
}

// ReadPayload signals a participant's read horizon moving forward.
type ReadPayload struct {
	RoomID        uuid.UUID `json:"room_id"`
	UserID        uuid.UUID `json:"user_id"`
	UpToMessageID string    `json:"up_to_message_id"`
}
