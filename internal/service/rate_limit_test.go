package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"peer_chat/pkg/logger"
)

type counterRepository struct {
	counts  map[string]int64
	windows map[string]time.Duration
	err     error
}

func newCounterRepository() *counterRepository {
	return &counterRepository{counts: make(map[string]int64), windows: make(map[string]time.Duration)}
}

func (r *counterRepository) CheckLimit(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	return r.counts[key] < int64(limit), r.err
}

func (r *counterRepository) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.counts[key]++
	r.windows[key] = window
	return r.counts[key], nil
}

func TestRateLimitService_AllowSend(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := newCounterRepository()
	svc := NewRateLimitService(repo, 2, logger.Nop())

	for i := 0; i < 2; i++ {
		allowed, err := svc.AllowSend(ctx, "alice")
		req.NoError(err)
		req.True(allowed)
	}
	allowed, err := svc.AllowSend(ctx, "alice")
	req.NoError(err)
	req.False(allowed)

	req.EqualValues(3, repo.counts["ratelimit:send:alice"])
	req.Equal(time.Minute, repo.windows["ratelimit:send:alice"])
}

func TestRateLimitService_Disabled(t *testing.T) {
	repo := newCounterRepository()
	svc := NewRateLimitService(repo, 0, logger.Nop())

	allowed, err := svc.AllowSend(context.Background(), "alice")

	require.NoError(t, err)
	require.True(t, allowed)
	require.Empty(t, repo.counts)
}

func TestRateLimitService_RepositoryError(t *testing.T) {
	repo := newCounterRepository()
	repo.err = errors.New("connection refused")
	svc := NewRateLimitService(repo, 5, logger.Nop())

	_, err := svc.AllowSend(context.Background(), "alice")
	require.Error(t, err)

	allowed, err := svc.CheckLimit(context.Background(), "k", 1, 60)
	require.Error(t, err)
	require.True(t, allowed)
}
