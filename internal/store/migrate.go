package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// schema is applied on startup. Every statement is idempotent so repeated
// deploys are safe.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	room_id UUID NOT NULL,
	sender_id UUID NOT NULL,
	content_type TEXT NOT NULL,
	has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recipient_copies (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	recipient_id UUID NOT NULL,
	ciphertext BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (message_id, recipient_id)
);

CREATE TABLE IF NOT EXISTS deliveries (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	recipient_id UUID NOT NULL,
	delivered_at TIMESTAMPTZ NOT NULL,
	read_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	deleted_at TIMESTAMPTZ,
	deletion_reason TEXT,
	PRIMARY KEY (message_id, recipient_id)
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id UUID NOT NULL,
	user_id UUID NOT NULL,
	disappear_seconds INTEGER NOT NULL DEFAULT 0,
	expiry_start_on TEXT NOT NULL DEFAULT 'read',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (room_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
CREATE INDEX IF NOT EXISTS idx_deliveries_expiry
	ON deliveries(expires_at) WHERE deleted_at IS NULL AND expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient_id, message_id);
`

// RunMigrations applies the schema to the target database.
func RunMigrations(databaseURL string) error {
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, schema)
	return err
}
