package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"peer_chat/internal/domain"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

// ChatRepository is the message store. Every mutation on a pair is serialized
// against other mutations on the same pair; reads see either the state before
// or after a mutation, never a partial one.
type ChatRepository interface {
	// Append assigns id and timestamp and persists the message.
	Append(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error)
	// MessagesBetween returns the pair's messages in either direction, oldest first.
	MessagesBetween(ctx context.Context, userA, userB string) ([]*domain.ChatMessage, error)
	// MessagesInvolving returns every message userID sent or received, oldest first.
	MessagesInvolving(ctx context.Context, userID string) ([]*domain.ChatMessage, error)
	GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error)
	// DeleteBetween removes the pair's messages and reports how many were removed.
	DeleteBetween(ctx context.Context, userA, userB string) (int64, error)
	// ArchiveBetween flags the pair's messages as archived and reports how many matched.
	ArchiveBetween(ctx context.Context, userA, userB string) (int64, error)
	Ping(ctx context.Context) error
}

// Clock supplies message timestamps.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// notBefore keeps a pair's timestamps non-decreasing when the wall clock steps back.
func notBefore(at, last time.Time) time.Time {
	if at.Before(last) {
		return last
	}
	return at
}

// storageError marks err as a storage failure unless it already carries a
// domain sentinel.
func storageError(err error) error {
	if err == nil || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err)
}

const chatMessageColumns = `id, sender_id, recipient_id, content, created_at, archived`

type chatRepository struct {
	db    *pgxpool.Pool
	log   logger.Logger
	clock Clock
}

func NewChatRepository(db *pgxpool.Pool, log logger.Logger) ChatRepository {
	return NewChatRepositoryWithClock(db, log, systemClock)
}

func NewChatRepositoryWithClock(db *pgxpool.Pool, log logger.Logger, clock Clock) ChatRepository {
	return &chatRepository{db: db, log: log, clock: clock}
}

// withPairLock runs fn in a transaction holding the pair's advisory lock.
func (r *chatRepository) withPairLock(ctx context.Context, userA, userB string, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, domain.PairKey(userA, userB)); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *chatRepository) Append(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error) {
	message := &domain.ChatMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	}

	err := r.withPairLock(ctx, senderID, recipientID, func(tx pgx.Tx) error {
		// Postgres keeps microseconds; truncate so the returned record matches what is read back.
		at := r.clock().Truncate(time.Microsecond)
		query := `
			INSERT INTO chat_messages (sender_id, recipient_id, content, created_at, archived)
			VALUES ($1, $2, $3, GREATEST($4, (
				SELECT MAX(created_at) FROM chat_messages
				WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
			)), FALSE)
			RETURNING id, created_at
		`
		if err := tx.QueryRow(ctx, query, senderID, recipientID, content, at).Scan(&message.ID, &message.Timestamp); err != nil {
			return err
		}
		message.Timestamp = message.Timestamp.UTC()
		return nil
	})
	if err != nil {
		r.log.Error("Failed to append message", "error", err, "sender_id", senderID, "recipient_id", recipientID)
		return nil, storageError(err)
	}

	return message, nil
}

func (r *chatRepository) MessagesBetween(ctx context.Context, userA, userB string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT ` + chatMessageColumns + `
		FROM chat_messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	messages, err := r.queryMessages(ctx, query, userA, userB)
	if err != nil {
		r.log.Error("Failed to get messages between users", "error", err)
		return nil, storageError(err)
	}
	return messages, nil
}

func (r *chatRepository) MessagesInvolving(ctx context.Context, userID string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT ` + chatMessageColumns + `
		FROM chat_messages
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at ASC, id ASC
	`
	messages, err := r.queryMessages(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to get messages for user", "error", err, "user_id", userID)
		return nil, storageError(err)
	}
	return messages, nil
}

func (r *chatRepository) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	query := `SELECT ` + chatMessageColumns + ` FROM chat_messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to get message", "error", err, "id", id)
		return nil, storageError(err)
	}
	return message, nil
}

func (r *chatRepository) DeleteBetween(ctx context.Context, userA, userB string) (int64, error) {
	var deleted int64
	err := r.withPairLock(ctx, userA, userB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM chat_messages
			WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		`, userA, userB)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		r.log.Error("Failed to delete conversation", "error", err)
		return 0, storageError(err)
	}
	return deleted, nil
}

func (r *chatRepository) ArchiveBetween(ctx context.Context, userA, userB string) (int64, error) {
	var archived int64
	err := r.withPairLock(ctx, userA, userB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE chat_messages
			SET archived = TRUE
			WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		`, userA, userB)
		if err != nil {
			return err
		}
		archived = tag.RowsAffected()
		return nil
	})
	if err != nil {
		r.log.Error("Failed to archive conversation", "error", err)
		return 0, storageError(err)
	}
	return archived, nil
}

func (r *chatRepository) Ping(ctx context.Context) error {
	return storageError(r.db.Ping(ctx))
}

func (r *chatRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.ChatMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.ChatMessage, error) {
	message := &domain.ChatMessage{}
	err := row.Scan(
		&message.ID, &message.SenderID, &message.RecipientID,
		&message.Content, &message.Timestamp, &message.Archived,
	)
	if err != nil {
		return nil, err
	}
	message.Timestamp = message.Timestamp.UTC()
	return message, nil
}
