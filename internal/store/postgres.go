package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
	"github.com/profullstack/qryptchat-web-sub004/internal/models"
)

// observeLatency records query wall time for the write paths the sweeper and
// senders contend on.
func observeLatency(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateMessageFanout writes the message plus all recipient copies and
// delivery rows in one transaction. A failure on any row rolls back the
// whole send so partial fan-out is never visible.
func (s *PostgresStore) CreateMessageFanout(ctx context.Context, msg *models.Message, copies []models.RecipientCopy, deliveries []models.Delivery) error {
	defer observeLatency(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content_type, has_attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.RoomID, msg.SenderID, string(msg.ContentType), msg.HasAttachments, msg.CreatedAt)
	if err != nil {
		return err
	}

	for _, c := range copies {
		_, err = tx.Exec(ctx, `
			INSERT INTO recipient_copies (message_id, recipient_id, ciphertext, created_at)
			VALUES ($1, $2, $3, $4)
		`, c.MessageID, c.RecipientID, c.Ciphertext, c.CreatedAt)
		if err != nil {
			return err
		}
	}

	for _, d := range deliveries {
		_, err = tx.Exec(ctx, `
			INSERT INTO deliveries (message_id, recipient_id, delivered_at, read_at, expires_at, deleted_at, deletion_reason)
			VALUES ($1, $2, $3, $4, $5, NULL, NULL)
		`, d.MessageID, d.RecipientID, d.DeliveredAt, d.ReadAt, d.ExpiresAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetMessage retrieves a message envelope by id.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{}
	var contentType string
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, content_type, has_attachments, created_at
		FROM messages WHERE id = $1
	`, id).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&contentType,
		&msg.HasAttachments,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.ContentType = models.ContentType(contentType)
	return msg, nil
}

// GetDelivery retrieves one (message, recipient) delivery row.
func (s *PostgresStore) GetDelivery(ctx context.Context, messageID string, recipientID uuid.UUID) (*models.Delivery, error) {
	d := &models.Delivery{}
	var reason *string
	err := s.pool.QueryRow(ctx, `
		SELECT message_id, recipient_id, delivered_at, read_at, expires_at, deleted_at, deletion_reason
		FROM deliveries WHERE message_id = $1 AND recipient_id = $2
	`, messageID, recipientID).Scan(
		&d.MessageID,
		&d.RecipientID,
		&d.DeliveredAt,
		&d.ReadAt,
		&d.ExpiresAt,
		&d.DeletedAt,
		&reason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if reason != nil {
		d.DeletionReason = models.DeletionReason(*reason)
	}
	return d, nil
}

// ListEncryptedMessages returns the recipient's live copies in a room,
// ascending by message id, strictly after sinceID.
func (s *PostgresStore) ListEncryptedMessages(ctx context.Context, roomID, recipientID uuid.UUID, sinceID string, limit int) ([]EncryptedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.content_type, m.has_attachments, m.created_at,
		       c.ciphertext,
		       d.delivered_at, d.read_at, d.expires_at
		FROM deliveries d
		JOIN messages m ON m.id = d.message_id
		JOIN recipient_copies c ON c.message_id = d.message_id AND c.recipient_id = d.recipient_id
		WHERE m.room_id = $1 AND d.recipient_id = $2 AND d.deleted_at IS NULL AND d.message_id > $3
		ORDER BY d.message_id
		LIMIT $4
	`, roomID, recipientID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EncryptedMessage
	for rows.Next() {
		var em EncryptedMessage
		var contentType string
		err := rows.Scan(
			&em.Message.ID,
			&em.Message.RoomID,
			&em.Message.SenderID,
			&contentType,
			&em.Message.HasAttachments,
			&em.Message.CreatedAt,
			&em.Ciphertext,
			&em.Delivery.DeliveredAt,
			&em.Delivery.ReadAt,
			&em.Delivery.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		em.Message.ContentType = models.ContentType(contentType)
		em.Delivery.MessageID = em.Message.ID
		em.Delivery.RecipientID = recipientID
		out = append(out, em)
	}

	return out, rows.Err()
}

// MarkRead transitions every unread live delivery up to and including upToID.
// COALESCE keeps an already-running timer untouched: expires_at is written at
// most once per delivery, ever.
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, recipientID uuid.UUID, upToID string, now time.Time, expiresAt *time.Time) (int64, error) {
	defer observeLatency(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries d
		SET read_at = $4,
		    expires_at = COALESCE(d.expires_at, $5)
		FROM messages m
		WHERE m.id = d.message_id
		  AND m.room_id = $1
		  AND d.recipient_id = $2
		  AND d.message_id <= $3
		  AND d.read_at IS NULL
		  AND d.deleted_at IS NULL
	`, roomID, recipientID, upToID, now, expiresAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TombstoneDelivery sets deleted_at once. The deleted_at IS NULL guard makes
// the transition idempotent under concurrent sweeps and retries.
func (s *PostgresStore) TombstoneDelivery(ctx context.Context, messageID string, recipientID uuid.UUID, reason models.DeletionReason, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries
		SET deleted_at = $4, deletion_reason = $3
		WHERE message_id = $1 AND recipient_id = $2 AND deleted_at IS NULL
	`, messageID, recipientID, string(reason), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredDeliveries returns live deliveries whose timer has elapsed.
func (s *PostgresStore) ListExpiredDeliveries(ctx context.Context, now time.Time, limit int) ([]DeliveryKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, recipient_id
		FROM deliveries
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND deleted_at IS NULL
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []DeliveryKey
	for rows.Next() {
		var k DeliveryKey
		if err := rows.Scan(&k.MessageID, &k.RecipientID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// ListReclaimableMessages returns messages whose deliveries are all terminal.
// The EXISTS clause keeps messages with no delivery rows out of the candidate
// set, so an in-flight fan-out (invisible until its transaction commits) can
// never be reclaimed.
func (s *PostgresStore) ListReclaimableMessages(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id FROM messages m
		WHERE m.content_type <> 'deleted'
		  AND EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = m.id)
		  AND NOT EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = m.id AND d.deleted_at IS NULL)
		ORDER BY m.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ReclaimMessage clears the message's ciphertext copies and marks the
// envelope deleted.
func (s *PostgresStore) ReclaimMessage(ctx context.Context, messageID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recipient_copies WHERE message_id = $1`, messageID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE messages SET content_type = 'deleted', has_attachments = FALSE WHERE id = $1
	`, messageID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AddParticipant records durable room membership with the default policy.
// Idempotent: re-adding an existing participant is a no-op.
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	p := models.DefaultExpiryPolicy()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_participants (room_id, user_id, disappear_seconds, expiry_start_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID, p.DisappearSeconds, string(p.StartOn))
	return err
}

// ListParticipants returns the room's durable participant list.
func (s *PostgresStore) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

// GetExpiryPolicy returns the participant's disappearing-message setting.
func (s *PostgresStore) GetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID) (models.ExpiryPolicy, error) {
	var p models.ExpiryPolicy
	var startOn string
	err := s.pool.QueryRow(ctx, `
		SELECT disappear_seconds, expiry_start_on
		FROM room_participants WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&p.DisappearSeconds, &startOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ExpiryPolicy{}, ErrNotParticipant
		}
		return models.ExpiryPolicy{}, err
	}
	p.StartOn = models.StartOn(startOn)
	return p, nil
}

// SetExpiryPolicy updates the participant's disappearing-message setting.
func (s *PostgresStore) SetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID, policy models.ExpiryPolicy) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE room_participants
		SET disappear_seconds = $3, expiry_start_on = $4
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, policy.DisappearSeconds, string(policy.StartOn))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}
	return nil
}
