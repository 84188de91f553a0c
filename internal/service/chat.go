package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"peer_chat/internal/broker"
	"peer_chat/internal/domain"
	"peer_chat/internal/repository"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

type ChatService interface {
	// Send stores the message and pushes it to the recipient's live feeds.
	// Only a storage failure fails the send; delivery is best effort.
	Send(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error)
	History(ctx context.Context, userID, otherUserID string) ([]*domain.ChatMessage, error)
	GetMessage(ctx context.Context, id int64) (*domain.ChatMessage, error)
	Subscribe(ctx context.Context, userID string) (*broker.Subscription, error)
}

type ChatOptions struct {
	RejectSelfMessages bool
	IdentityCheck      bool
	MaxContentLength   int
}

type chatService struct {
	chatRepo  repository.ChatRepository
	userRepo  repository.UserRepository
	broker    *broker.Broker
	rateLimit RateLimitService
	opts      ChatOptions
	log       logger.Logger
}

func NewChatService(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	b *broker.Broker,
	rateLimit RateLimitService,
	opts ChatOptions,
	log logger.Logger,
) ChatService {
	return &chatService{
		chatRepo:  chatRepo,
		userRepo:  userRepo,
		broker:    b,
		rateLimit: rateLimit,
		opts:      opts,
		log:       log,
	}
}

func (s *chatService) Send(ctx context.Context, senderID, recipientID, content string) (*domain.ChatMessage, error) {
	senderID, recipientID, err := normalizePair(senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if s.opts.RejectSelfMessages && senderID == recipientID {
		return nil, apperrors.ErrInvalidConversationPair
	}
	if s.opts.MaxContentLength > 0 && utf8.RuneCountInString(content) > s.opts.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d characters", apperrors.ErrBadRequest, s.opts.MaxContentLength)
	}

	if s.rateLimit != nil {
		allowed, err := s.rateLimit.AllowSend(ctx, senderID)
		if err != nil {
			s.log.Warn("Send rate limit unavailable, allowing message", "error", err, "sender_id", senderID)
		} else if !allowed {
			return nil, apperrors.ErrRateLimited
		}
	}

	if s.opts.IdentityCheck {
		if err := s.ensureUsersExist(ctx, senderID, recipientID); err != nil {
			return nil, err
		}
	}

	message, err := s.chatRepo.Append(ctx, senderID, recipientID, content)
	if err != nil {
		return nil, err
	}

	if delivered := s.broker.Publish(message); delivered == 0 {
		s.log.Debug(apperrors.ErrDeliverySkipped.Error(), "message_id", message.ID, "recipient_id", recipientID)
	} else {
		s.log.Debug("Message pushed", "message_id", message.ID, "recipient_id", recipientID, "subscribers", delivered)
	}

	return message, nil
}

func (s *chatService) History(ctx context.Context, userID, otherUserID string) ([]*domain.ChatMessage, error) {
	userID, otherUserID, err := normalizePair(userID, otherUserID)
	if err != nil {
		return nil, err
	}
	return s.chatRepo.MessagesBetween(ctx, userID, otherUserID)
}

func (s *chatService) GetMessage(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invalid message id", apperrors.ErrBadRequest)
	}
	return s.chatRepo.GetByID(ctx, id)
}

func (s *chatService) Subscribe(ctx context.Context, userID string) (*broker.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrBadRequest)
	}
	return s.broker.Subscribe(ctx, userID), nil
}

func (s *chatService) ensureUsersExist(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		exists, err := s.userRepo.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", apperrors.ErrUnknownUser, id)
		}
	}
	return nil
}

func normalizePair(userID, otherUserID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	otherUserID = strings.TrimSpace(otherUserID)
	if userID == "" || otherUserID == "" {
		return "", "", fmt.Errorf("%w: both user ids are required", apperrors.ErrBadRequest)
	}
	return userID, otherUserID, nil
}
