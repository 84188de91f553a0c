package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/samber/lo"
	"peer_chat/internal/domain"
	"peer_chat/internal/repository"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

type ConversationService interface {
	// ConversationsFor lists every peer userID has exchanged messages with,
	// most recent conversation first. It is recomputed on every call.
	ConversationsFor(ctx context.Context, userID string) ([]domain.Conversation, error)
}

type conversationService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewConversationService(chatRepo repository.ChatRepository, userRepo repository.UserRepository, log logger.Logger) ConversationService {
	return &conversationService{
		chatRepo: chatRepo,
		userRepo: userRepo,
		log:      log,
	}
}

func (s *conversationService) ConversationsFor(ctx context.Context, userID string) ([]domain.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.ErrBadRequest
	}

	// One read, so every conversation comes from the same snapshot.
	messages, err := s.chatRepo.MessagesInvolving(ctx, userID)
	if err != nil {
		return nil, err
	}

	conversations := LatestPerPeer(userID, messages)
	for i := range conversations {
		conversations[i].PeerName = s.displayName(ctx, conversations[i].PeerID)
	}
	return conversations, nil
}

// displayName falls back to the default label when the directory cannot help.
func (s *conversationService) displayName(ctx context.Context, peerID string) string {
	user, err := s.userRepo.GetByID(ctx, peerID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.log.Warn("Failed to resolve peer name", "error", err, "peer_id", peerID)
		}
		return domain.DefaultDisplayName(peerID)
	}
	return user.DisplayName
}

// LatestPerPeer keeps, for each peer of userID, the latest message of the pair
// (greatest timestamp, then greatest id) and orders the result newest first.
// Self-messages and messages not involving userID are ignored.
func LatestPerPeer(userID string, messages []*domain.ChatMessage) []domain.Conversation {
	relevant := lo.Filter(messages, func(m *domain.ChatMessage, _ int) bool {
		return !m.IsSelf() && m.PeerOf(userID) != ""
	})

	latest := make(map[string]*domain.ChatMessage)
	for _, m := range relevant {
		peer := m.PeerOf(userID)
		if current, ok := latest[peer]; !ok || current.Before(m) {
			latest[peer] = m
		}
	}

	winners := lo.Values(latest)
	sort.Slice(winners, func(i, j int) bool {
		return winners[j].Before(winners[i])
	})

	return lo.Map(winners, func(m *domain.ChatMessage, _ int) domain.Conversation {
		peer := m.PeerOf(userID)
		return domain.Conversation{
			PeerID:        peer,
			PeerName:      domain.DefaultDisplayName(peer),
			LastMessage:   m.Content,
			LastTimestamp: m.Timestamp,
		}
	})
}
