package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/profullstack/qryptchat-web-sub004/internal/models"
)

var (
	// ErrNotParticipant is returned when an operation references a user who
	// is not in the room's durable participant list.
	ErrNotParticipant = errors.New("user is not a participant of this room")
)

// DeliveryKey identifies one (message, recipient) delivery row.
type DeliveryKey struct {
	MessageID   string
	RecipientID uuid.UUID
}

// EncryptedMessage is one recipient's pull-path view of a message: envelope
// metadata, their own ciphertext, and their delivery state. Broadcast
// envelopes never carry this; clients fetch it through the read path.
type EncryptedMessage struct {
	Message    models.Message  `json:"message"`
	Ciphertext []byte          `json:"ciphertext"`
	Delivery   models.Delivery `json:"delivery"`
}

// DataStore is the durable record store behind the delivery ledger. Both
// PostgresStore and SQLiteStore implement this interface. All mutating
// lifecycle operations are conditional and idempotent ("update only where
// not yet set"); no caller holds application-level locks.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Fan-out: writes the message, all recipient copies, and all delivery
	// rows in a single transaction. Either every row lands or none do.
	CreateMessageFanout(ctx context.Context, msg *models.Message, copies []models.RecipientCopy, deliveries []models.Delivery) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetDelivery(ctx context.Context, messageID string, recipientID uuid.UUID) (*models.Delivery, error)

	// Pull path: the recipient's live copies in a room, ascending by
	// message id, starting strictly after sinceID.
	ListEncryptedMessages(ctx context.Context, roomID, recipientID uuid.UUID, sinceID string, limit int) ([]EncryptedMessage, error)

	// Ledger transitions. MarkRead sets read_at on every unread live
	// delivery up to and including upToID; expiresAt (when non-nil) is
	// applied only to rows whose timer has not started yet. Returns the
	// number of rows transitioned. TombstoneDelivery sets deleted_at once;
	// it reports false when the row was already terminal.
	MarkRead(ctx context.Context, roomID, recipientID uuid.UUID, upToID string, now time.Time, expiresAt *time.Time) (int64, error)
	TombstoneDelivery(ctx context.Context, messageID string, recipientID uuid.UUID, reason models.DeletionReason, now time.Time) (bool, error)

	// Sweeper queries. ListExpiredDeliveries returns live rows whose timer
	// has elapsed. ListReclaimableMessages returns messages where every
	// delivery is terminal (and at least one delivery exists, so a message
	// is never reclaimed before its fan-out is visible). ReclaimMessage
	// clears the ciphertext copies and marks the message deleted.
	ListExpiredDeliveries(ctx context.Context, now time.Time, limit int) ([]DeliveryKey, error)
	ListReclaimableMessages(ctx context.Context, limit int) ([]string, error)
	ReclaimMessage(ctx context.Context, messageID string) error

	// Durable participant list (the authoritative room membership) and
	// per-participant expiry policy.
	AddParticipant(ctx context.Context, roomID, userID uuid.UUID) error
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	GetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID) (models.ExpiryPolicy, error)
	SetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID, policy models.ExpiryPolicy) error
}
