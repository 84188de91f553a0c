package service

import (
	"context"
	"sync"
	"time"

	"peer_chat/internal/domain"
	"peer_chat/internal/repository"
	apperrors "peer_chat/pkg/errors"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func stepClock(start time.Time, step time.Duration) repository.Clock {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

// unavailableChatRepository fails every call the way an unreachable database does.
type unavailableChatRepository struct{}

func (unavailableChatRepository) Append(context.Context, string, string, string) (*domain.ChatMessage, error) {
	return nil, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) MessagesBetween(context.Context, string, string) ([]*domain.ChatMessage, error) {
	return nil, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) MessagesInvolving(context.Context, string) ([]*domain.ChatMessage, error) {
	return nil, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) GetByID(context.Context, int64) (*domain.ChatMessage, error) {
	return nil, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) DeleteBetween(context.Context, string, string) (int64, error) {
	return 0, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) ArchiveBetween(context.Context, string, string) (int64, error) {
	return 0, apperrors.ErrStorageUnavailable
}

func (unavailableChatRepository) Ping(context.Context) error {
	return apperrors.ErrStorageUnavailable
}

type fakeUserRepository struct {
	users map[string]string
	err   error
}

func (f fakeUserRepository) Exists(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.users[userID]
	return ok, nil
}

func (f fakeUserRepository) GetByID(_ context.Context, userID string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	name, ok := f.users[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &domain.User{ID: userID, DisplayName: name}, nil
}

type fakeRateLimit struct {
	mu    sync.Mutex
	limit int
	sends map[string]int
	err   error
}

func (f *fakeRateLimit) CheckLimit(context.Context, string, int, int) (bool, error) {
	return true, f.err
}

func (f *fakeRateLimit) Increment(context.Context, string, int) (int64, error) {
	return 0, f.err
}

func (f *fakeRateLimit) AllowSend(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sends == nil {
		f.sends = make(map[string]int)
	}
	f.sends[userID]++
	return f.sends[userID] <= f.limit, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditLog
	err    error
}

func (r *recordingAudit) LogEvent(_ context.Context, actorUserID, peerUserID, eventType string, payload map[string]interface{}) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.AuditLog{
		ActorUserID: actorUserID,
		PeerUserID:  peerUserID,
		EventType:   eventType,
		Payload:     payload,
	})
	return nil
}

type recordingAuditRepository struct {
	logs []*domain.AuditLog
}

func (r *recordingAuditRepository) CreateLog(_ context.Context, log *domain.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}
