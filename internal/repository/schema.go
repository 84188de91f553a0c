package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The users table belongs to the identity service and is not created here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id           BIGSERIAL PRIMARY KEY,
		sender_id    TEXT        NOT NULL,
		recipient_id TEXT        NOT NULL,
		content      TEXT        NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		archived     BOOLEAN     NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_sender
		ON chat_messages (sender_id, recipient_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_recipient
		ON chat_messages (recipient_id, sender_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id            BIGSERIAL PRIMARY KEY,
		event_time    TIMESTAMPTZ NOT NULL,
		actor_user_id TEXT        NOT NULL,
		peer_user_id  TEXT        NOT NULL,
		event_type    TEXT        NOT NULL,
		payload       JSONB       NOT NULL DEFAULT '{}'::jsonb
	)`,
}

// EnsureSchema creates the chat tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, statement := range schemaStatements {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
