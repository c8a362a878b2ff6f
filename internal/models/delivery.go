package models

import (
	"time"

	"github.com/google/uuid"
)

// DeletionReason tags why a delivery reached its terminal state. The set is
// closed; the sweeper and router switch over it exhaustively.
type DeletionReason string

const (
	ReasonExpired DeletionReason = "expired"
	ReasonManual  DeletionReason = "manual"
	ReasonRevoked DeletionReason = "revoked"
)

// Valid reports whether r is one of the known deletion reasons.
func (r DeletionReason) Valid() bool {
	switch r {
	case ReasonExpired, ReasonManual, ReasonRevoked:
		return true
	}
	return false
}

// Delivery tracks one recipient's copy of one message through its lifecycle:
// delivered -> read -> expired/deleted. DeletedAt is set once and never
// changed; ExpiresAt, once set, is never recomputed.
type Delivery struct {
	MessageID      string         `json:"message_id"`
	RecipientID    uuid.UUID      `json:"recipient_id"`
	DeliveredAt    time.Time      `json:"delivered_at"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	DeletionReason DeletionReason `json:"deletion_reason,omitempty"`
}

// Live reports whether the delivery has not yet reached a terminal state.
// A delivery with ExpiresAt in the past but DeletedAt unset is still live:
// "expired but not yet swept" is a valid transient state.
func (d *Delivery) Live() bool {
	return d.DeletedAt == nil
}
