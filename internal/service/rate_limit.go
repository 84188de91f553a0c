package service

import (
	"context"
	"time"

	"peer_chat/internal/domain"
	"peer_chat/internal/repository"
	"peer_chat/pkg/logger"
)

type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error)
	Increment(ctx context.Context, key string, windowSeconds int) (int64, error)
	// AllowSend counts one send for userID and reports whether it fits the window.
	AllowSend(ctx context.Context, userID string) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	sendRule      domain.RateLimitRule
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, sendPerMinute int, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		sendRule: domain.RateLimitRule{
			Scope:  domain.RateLimitScopeSend,
			Limit:  sendPerMinute,
			Window: time.Minute,
		},
		log: log,
	}
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error) {
	return s.rateLimitRepo.CheckLimit(ctx, key, limit, time.Duration(windowSeconds)*time.Second)
}

func (s *rateLimitService) Increment(ctx context.Context, key string, windowSeconds int) (int64, error) {
	return s.rateLimitRepo.Increment(ctx, key, time.Duration(windowSeconds)*time.Second)
}

func (s *rateLimitService) AllowSend(ctx context.Context, userID string) (bool, error) {
	if s.sendRule.Limit <= 0 {
		return true, nil
	}
	count, err := s.rateLimitRepo.Increment(ctx, s.sendRule.Key(userID), s.sendRule.Window)
	if err != nil {
		return false, err
	}
	if count > int64(s.sendRule.Limit) {
		s.log.Debug("Send rate limit exceeded", "user_id", userID, "count", count)
		return false, nil
	}
	return true, nil
}
