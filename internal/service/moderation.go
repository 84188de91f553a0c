package service

import (
	"context"

	"peer_chat/internal/domain"
	"peer_chat/internal/repository"
	"peer_chat/pkg/logger"
)

// ModerationService archives or clears whole conversations. Neither touches
// the broker: pushes already delivered stay delivered.
type ModerationService interface {
	// ArchiveConversation flags every message of the pair as archived.
	ArchiveConversation(ctx context.Context, userID, otherUserID string) (int64, error)
	// ClearConversation permanently deletes every message of the pair.
	ClearConversation(ctx context.Context, userID, otherUserID string) (int64, error)
}

type moderationService struct {
	chatRepo repository.ChatRepository
	audit    AuditService
	log      logger.Logger
}

func NewModerationService(chatRepo repository.ChatRepository, audit AuditService, log logger.Logger) ModerationService {
	return &moderationService{
		chatRepo: chatRepo,
		audit:    audit,
		log:      log,
	}
}

func (s *moderationService) ArchiveConversation(ctx context.Context, userID, otherUserID string) (int64, error) {
	userID, otherUserID, err := normalizePair(userID, otherUserID)
	if err != nil {
		return 0, err
	}

	archived, err := s.chatRepo.ArchiveBetween(ctx, userID, otherUserID)
	if err != nil {
		return 0, err
	}

	s.log.Info("Conversation archived", "user_id", userID, "other_user_id", otherUserID, "messages", archived)
	s.record(ctx, userID, otherUserID, domain.EventTypeConversationArchived, archived)
	return archived, nil
}

func (s *moderationService) ClearConversation(ctx context.Context, userID, otherUserID string) (int64, error) {
	userID, otherUserID, err := normalizePair(userID, otherUserID)
	if err != nil {
		return 0, err
	}

	deleted, err := s.chatRepo.DeleteBetween(ctx, userID, otherUserID)
	if err != nil {
		return 0, err
	}

	s.log.Info("Conversation cleared", "user_id", userID, "other_user_id", otherUserID, "messages", deleted)
	s.record(ctx, userID, otherUserID, domain.EventTypeConversationCleared, deleted)
	return deleted, nil
}

// record never fails the operation it describes.
func (s *moderationService) record(ctx context.Context, userID, otherUserID, eventType string, affected int64) {
	if s.audit == nil {
		return
	}
	payload := map[string]interface{}{"affected_messages": affected}
	if err := s.audit.LogEvent(ctx, userID, otherUserID, eventType, payload); err != nil {
		s.log.Warn("Failed to write audit event", "error", err, "event_type", eventType)
	}
}
