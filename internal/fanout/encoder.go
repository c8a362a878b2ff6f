// Package fanout turns one plaintext message into N independently encrypted
// recipient copies plus their delivery ledger rows.
//
// Membership is read as an unlocked snapshot at send time: a participant
// whose join lands concurrently with a send receives only messages sent
// after the join is durably recorded.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/profullstack/qryptchat-web-sub004/internal/crypto"
	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
)

var (
	ErrSenderNotParticipant = errors.New("sender is not a participant of this room")
	ErrEmptyRoom            = errors.New("room has no participants")
)

// MembershipDirectory resolves the authoritative participant list and each
// participant's expiry policy.
type MembershipDirectory interface {
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	GetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID) (models.ExpiryPolicy, error)
}

// KeyDirectory serves public key material for sealing.
type KeyDirectory interface {
	PublicKeyMaterial(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

// LedgerStore is the slice of the durable store the encoder writes through.
type LedgerStore interface {
	CreateMessageFanout(ctx context.Context, msg *models.Message, copies []models.RecipientCopy, deliveries []models.Delivery) error
}

// Encoder produces the fan-out: one Message plus one RecipientCopy and one
// Delivery per current participant, sender included (so the sender can
// re-read its own sent message).
type Encoder struct {
	store      LedgerStore
	membership MembershipDirectory
	keys       KeyDirectory
	logger     zerolog.Logger
}

// NewEncoder wires the encoder to its collaborators.
func NewEncoder(store LedgerStore, membership MembershipDirectory, keys KeyDirectory, logger zerolog.Logger) *Encoder {
	return &Encoder{store: store, membership: membership, keys: keys, logger: logger}
}

// Send encrypts plaintext once per participant and persists the whole
// fan-out in a single transaction. Any key lookup, seal, or write failure
// rolls the entire send back; partial fan-out is never visible.
func (e *Encoder) Send(ctx context.Context, roomID, senderID uuid.UUID, plaintext []byte, contentType models.ContentType) (*models.Message, error) {
	participants, err := e.membership.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if len(participants) == 0 {
		return nil, ErrEmptyRoom
	}

	isParticipant := false
	for _, p := range participants {
		if p == senderID {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		return nil, ErrSenderNotParticipant
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		SenderID:    senderID,
		ContentType: contentType,
		CreatedAt:   now,
	}

	copies := make([]models.RecipientCopy, len(participants))
	deliveries := make([]models.Delivery, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, recipientID := range participants {
		i, recipientID := i, recipientID
		g.Go(func() error {
			material, err := e.keys.PublicKeyMaterial(gctx, recipientID)
			if err != nil {
				return fmt.Errorf("key lookup for %s: %w", recipientID, err)
			}
			pub, err := crypto.ValidateKeyMaterial(material)
			if err != nil {
				return fmt.Errorf("key material for %s: %w", recipientID, err)
			}

			ciphertext, err := crypto.Seal(plaintext, pub)
			if err != nil {
				return fmt.Errorf("seal for %s: %w", recipientID, err)
			}

			policy, err := e.membership.GetExpiryPolicy(gctx, roomID, recipientID)
			if err != nil {
				return fmt.Errorf("expiry policy for %s: %w", recipientID, err)
			}

			copies[i] = models.RecipientCopy{
				MessageID:   msg.ID,
				RecipientID: recipientID,
				Ciphertext:  ciphertext,
				CreatedAt:   now,
			}

			d := models.Delivery{
				MessageID:   msg.ID,
				RecipientID: recipientID,
				DeliveredAt: now,
			}
			// The delivered-start timer begins immediately; the read-start
			// timer stays unset until the read transition.
			if policy.Enabled() && policy.StartOn == models.StartOnDelivered {
				expires := now.Add(policy.Disappear())
				d.ExpiresAt = &expires
			}
			deliveries[i] = d

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.FanoutFailures.Inc()
		return nil, err
	}

	if err := e.store.CreateMessageFanout(ctx, msg, copies, deliveries); err != nil {
		metrics.FanoutFailures.Inc()
		return nil, fmt.Errorf("persist fanout: %w", err)
	}

	metrics.MessagesFannedOut.Inc()
	metrics.RecipientCopiesSealed.Add(float64(len(copies)))

	e.logger.Info().
		Str("message_id", msg.ID).
		Str("room_id", roomID.String()).
		Int("recipients", len(participants)).
		Msg("message fanned out")

	return msg, nil
}
