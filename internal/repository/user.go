package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"peer_chat/internal/domain"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

// UserRepository is the read-only view of the externally owned user directory.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
	GetByID(ctx context.Context, userID string) (*domain.User, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id::text = $1)`, userID).Scan(&exists)
	if err != nil {
		r.log.Error("Failed to check user existence", "error", err, "user_id", userID)
		return false, storageError(err)
	}
	return exists, nil
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, `
		SELECT id::text, COALESCE(display_name, '')
		FROM users
		WHERE id::text = $1
	`, userID).Scan(&user.ID, &user.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to get user", "error", err, "user_id", userID)
		return nil, storageError(err)
	}
	if user.DisplayName == "" {
		user.DisplayName = domain.DefaultDisplayName(user.ID)
	}
	return user, nil
}

// openUserRepository accepts every id. It backs deployments without a user
// directory, where ids are opaque and unchecked.
type openUserRepository struct{}

func NewOpenUserRepository() UserRepository {
	return openUserRepository{}
}

func (openUserRepository) Exists(ctx context.Context, _ string) (bool, error) {
	return true, ctx.Err()
}

func (openUserRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.User{ID: userID, DisplayName: domain.DefaultDisplayName(userID)}, nil
}
