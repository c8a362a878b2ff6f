package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentType describes what a message envelope carries. Once a message is
// garbage-collected its content type becomes ContentDeleted and never changes
// again.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentAttachment ContentType = "attachment"
	ContentDeleted    ContentType = "deleted"
)

// Valid reports whether ct is one of the known content types.
func (ct ContentType) Valid() bool {
	switch ct {
	case ContentText, ContentAttachment, ContentDeleted:
		return true
	}
	return false
}

// Message is the immutable per-room envelope. Plaintext is never stored;
// only per-recipient ciphertext exists (see RecipientCopy).
type Message struct {
	ID             string      `json:"id"` // ULID, time-ordered
	RoomID         uuid.UUID   `json:"room_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	ContentType    ContentType `json:"content_type"`
	HasAttachments bool        `json:"has_attachments"`
	CreatedAt      time.Time   `json:"created_at"`
}

// RecipientCopy holds the ciphertext addressed to exactly one recipient.
// Exactly one copy exists per (message, recipient); copies are never
// mutated, only cleared by the sweeper's GC phase.
type RecipientCopy struct {
	MessageID   string    `json:"message_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Ciphertext  []byte    `json:"ciphertext"`
	CreatedAt   time.Time `json:"created_at"`
}
