package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"peer_chat/internal/domain"
	apperrors "peer_chat/pkg/errors"
)

// memoryChatRepository keeps messages in insertion order. A single RWMutex
// serializes mutations and gives readers a consistent view.
type memoryChatRepository struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
	lastID   int64
	lastAt   map[string]time.Time
	clock    Clock
}

func NewMemoryChatRepository() ChatRepository {
	return NewMemoryChatRepositoryWithClock(systemClock)
}

func NewMemoryChatRepositoryWithClock(clock Clock) ChatRepository {
	return &memoryChatRepository{lastAt: make(map[string]time.Time), clock: clock}
}

func (r *memoryChatRepository) Append(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pair := domain.PairKey(senderID, recipientID)
	r.lastID++
	message := domain.ChatMessage{
		ID:          r.lastID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   notBefore(r.clock(), r.lastAt[pair]),
	}
	r.messages = append(r.messages, message)
	r.lastAt[pair] = message.Timestamp
	return &message, nil
}

func (r *memoryChatRepository) MessagesBetween(ctx context.Context, userA, userB string) ([]*domain.ChatMessage, error) {
	return r.collect(ctx, func(m *domain.ChatMessage) bool { return m.Involves(userA, userB) })
}

func (r *memoryChatRepository) MessagesInvolving(ctx context.Context, userID string) ([]*domain.ChatMessage, error) {
	return r.collect(ctx, func(m *domain.ChatMessage) bool {
		return m.SenderID == userID || m.RecipientID == userID
	})
}

func (r *memoryChatRepository) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.messages {
		if r.messages[i].ID == id {
			message := r.messages[i]
			return &message, nil
		}
	}
	return nil, fmt.Errorf("message %d: %w", id, apperrors.ErrNotFound)
}

func (r *memoryChatRepository) DeleteBetween(ctx context.Context, userA, userB string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.messages[:0]
	var deleted int64
	for _, m := range r.messages {
		if m.Involves(userA, userB) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	// Zero the tail so removed contents are not retained by the backing array.
	for i := len(kept); i < len(r.messages); i++ {
		r.messages[i] = domain.ChatMessage{}
	}
	r.messages = kept
	delete(r.lastAt, domain.PairKey(userA, userB))
	return deleted, nil
}

func (r *memoryChatRepository) ArchiveBetween(ctx context.Context, userA, userB string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var archived int64
	for i := range r.messages {
		if r.messages[i].Involves(userA, userB) {
			r.messages[i].Archived = true
			archived++
		}
	}
	return archived, nil
}

func (r *memoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *memoryChatRepository) collect(ctx context.Context, match func(*domain.ChatMessage) bool) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := make([]*domain.ChatMessage, 0)
	for i := range r.messages {
		if match(&r.messages[i]) {
			message := r.messages[i]
			result = append(result, &message)
		}
	}
	r.mu.RUnlock()

	sortMessages(result)
	return result, nil
}

func sortMessages(messages []*domain.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}
