package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/profullstack/qryptchat-web-sub004/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development and
// test backend; production runs on PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/qryptchat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/qryptchat.db"
	}

	// In-memory databases need no directory
	if !strings.HasPrefix(dbPath, ":memory:") {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		has_attachments INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recipient_copies (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		recipient_id TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, recipient_id)
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		recipient_id TEXT NOT NULL,
		delivered_at DATETIME NOT NULL,
		read_at DATETIME,
		expires_at DATETIME,
		deleted_at DATETIME,
		deletion_reason TEXT,
		PRIMARY KEY (message_id, recipient_id)
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		disappear_seconds INTEGER NOT NULL DEFAULT 0,
		expiry_start_on TEXT NOT NULL DEFAULT 'read',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_expiry ON deliveries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient_id, message_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateMessageFanout writes the message plus all recipient copies and
// delivery rows in one transaction.
func (s *SQLiteStore) CreateMessageFanout(ctx context.Context, msg *models.Message, copies []models.RecipientCopy, deliveries []models.Delivery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content_type, has_attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.SenderID, string(msg.ContentType), msg.HasAttachments, msg.CreatedAt.UTC())
	if err != nil {
		return err
	}

	for _, c := range copies {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipient_copies (message_id, recipient_id, ciphertext, created_at)
			VALUES (?, ?, ?, ?)
		`, c.MessageID, c.RecipientID, c.Ciphertext, c.CreatedAt.UTC())
		if err != nil {
			return err
		}
	}

	for _, d := range deliveries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deliveries (message_id, recipient_id, delivered_at, read_at, expires_at, deleted_at, deletion_reason)
			VALUES (?, ?, ?, ?, ?, NULL, NULL)
		`, d.MessageID, d.RecipientID, d.DeliveredAt.UTC(), nullTime(d.ReadAt), nullTime(d.ExpiresAt))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// nullTime normalizes optional timestamps to UTC for stable text comparison
// in SQLite.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// GetMessage retrieves a message envelope by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{}
	var contentType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content_type, has_attachments, created_at
		FROM messages WHERE id = ?
	`, id).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&contentType,
		&msg.HasAttachments,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.ContentType = models.ContentType(contentType)
	return msg, nil
}

// GetDelivery retrieves one (message, recipient) delivery row.
func (s *SQLiteStore) GetDelivery(ctx context.Context, messageID string, recipientID uuid.UUID) (*models.Delivery, error) {
	d := &models.Delivery{}
	var readAt, expiresAt, deletedAt sql.NullTime
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT message_id, recipient_id, delivered_at, read_at, expires_at, deleted_at, deletion_reason
		FROM deliveries WHERE message_id = ? AND recipient_id = ?
	`, messageID, recipientID).Scan(
		&d.MessageID,
		&d.RecipientID,
		&d.DeliveredAt,
		&readAt,
		&expiresAt,
		&deletedAt,
		&reason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if readAt.Valid {
		d.ReadAt = &readAt.Time
	}
	if expiresAt.Valid {
		d.ExpiresAt = &expiresAt.Time
	}
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Time
	}
	if reason.Valid {
		d.DeletionReason = models.DeletionReason(reason.String)
	}
	return d, nil
}

// ListEncryptedMessages returns the recipient's live copies in a room,
// ascending by message id, strictly after sinceID.
func (s *SQLiteStore) ListEncryptedMessages(ctx context.Context, roomID, recipientID uuid.UUID, sinceID string, limit int) ([]EncryptedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.content_type, m.has_attachments, m.created_at,
		       c.ciphertext,
		       d.delivered_at, d.read_at, d.expires_at
		FROM deliveries d
		JOIN messages m ON m.id = d.message_id
		JOIN recipient_copies c ON c.message_id = d.message_id AND c.recipient_id = d.recipient_id
		WHERE m.room_id = ? AND d.recipient_id = ? AND d.deleted_at IS NULL AND d.message_id > ?
		ORDER BY d.message_id
		LIMIT ?
	`, roomID, recipientID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EncryptedMessage
	for rows.Next() {
		var em EncryptedMessage
		var contentType string
		var readAt, expiresAt sql.NullTime
		err := rows.Scan(
			&em.Message.ID,
			&em.Message.RoomID,
			&em.Message.SenderID,
			&contentType,
			&em.Message.HasAttachments,
			&em.Message.CreatedAt,
			&em.Ciphertext,
			&em.Delivery.DeliveredAt,
			&readAt,
			&expiresAt,
		)
		if err != nil {
			return nil, err
		}
		em.Message.ContentType = models.ContentType(contentType)
		em.Delivery.MessageID = em.Message.ID
		em.Delivery.RecipientID = recipientID
		if readAt.Valid {
			em.Delivery.ReadAt = &readAt.Time
		}
		if expiresAt.Valid {
			em.Delivery.ExpiresAt = &expiresAt.Time
		}
		out = append(out, em)
	}

	return out, rows.Err()
}

// MarkRead transitions every unread live delivery up to and including upToID.
func (s *SQLiteStore) MarkRead(ctx context.Context, roomID, recipientID uuid.UUID, upToID string, now time.Time, expiresAt *time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET read_at = ?,
		    expires_at = COALESCE(expires_at, ?)
		WHERE recipient_id = ?
		  AND message_id <= ?
		  AND message_id IN (SELECT id FROM messages WHERE room_id = ?)
		  AND read_at IS NULL
		  AND deleted_at IS NULL
	`, now.UTC(), nullTime(expiresAt), recipientID, upToID, roomID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TombstoneDelivery sets deleted_at once; already-terminal rows are left
// untouched and reported as false.
func (s *SQLiteStore) TombstoneDelivery(ctx context.Context, messageID string, recipientID uuid.UUID, reason models.DeletionReason, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET deleted_at = ?, deletion_reason = ?
		WHERE message_id = ? AND recipient_id = ? AND deleted_at IS NULL
	`, now.UTC(), string(reason), messageID, recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExpiredDeliveries returns live deliveries whose timer has elapsed.
func (s *SQLiteStore) ListExpiredDeliveries(ctx context.Context, now time.Time, limit int) ([]DeliveryKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, recipient_id
		FROM deliveries
		WHERE expires_at IS NOT NULL AND expires_at <= ? AND deleted_at IS NULL
		ORDER BY expires_at
		LIMIT ?
	`, now.UTC(), limit)
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
func (s *SQLiteStore) ListReclaimableMessages(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM messages m
		WHERE m.content_type != 'deleted'
		  AND EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = m.id)
		  AND NOT EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = m.id AND d.deleted_at IS NULL)
		ORDER BY m.id
		LIMIT ?
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
func (s *SQLiteStore) ReclaimMessage(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipient_copies WHERE message_id = ?`, messageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET content_type = 'deleted', has_attachments = 0 WHERE id = ?
	`, messageID); err != nil {
		return err
	}

	return tx.Commit()
}

// AddParticipant records durable room membership with the default policy.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	p := models.DefaultExpiryPolicy()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_participants (room_id, user_id, disappear_seconds, expiry_start_on)
		VALUES (?, ?, ?, ?)
	`, roomID, userID, p.DisappearSeconds, string(p.StartOn))
	return err
}

// ListParticipants returns the room's durable participant list.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at, user_id
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
func (s *SQLiteStore) GetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID) (models.ExpiryPolicy, error) {
	var p models.ExpiryPolicy
	var startOn string
	err := s.db.QueryRowContext(ctx, `
		SELECT disappear_seconds, expiry_start_on
		FROM room_participants WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&p.DisappearSeconds, &startOn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ExpiryPolicy{}, ErrNotParticipant
		}
		return models.ExpiryPolicy{}, err
	}
	p.StartOn = models.StartOn(startOn)
	return p, nil
}

// SetExpiryPolicy updates the participant's disappearing-message setting.
func (s *SQLiteStore) SetExpiryPolicy(ctx context.Context, roomID, userID uuid.UUID, policy models.ExpiryPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE room_participants
		SET disappear_seconds = ?, expiry_start_on = ?
		WHERE room_id = ? AND user_id = ?
	`, policy.DisappearSeconds, string(policy.StartOn), roomID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotParticipant
	}
	return nil
}
