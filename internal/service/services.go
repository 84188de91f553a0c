package service

import (
	"peer_chat/internal/broker"
	"peer_chat/internal/config"
	"peer_chat/internal/repository"
	"peer_chat/pkg/logger"
)

type Services struct {
	Chat         ChatService
	Conversation ConversationService
	Moderation   ModerationService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, b *broker.Broker, cfg *config.Config, log logger.Logger) *Services {
	services := &Services{
		Audit:        NewAuditService(repos.Audit, log),
		Conversation: NewConversationService(repos.Chat, repos.User, log),
	}
	services.Moderation = NewModerationService(repos.Chat, services.Audit, log)

	if repos.RateLimit != nil && cfg.RateLimitActive() {
		services.RateLimit = NewRateLimitService(repos.RateLimit, cfg.RateLimit.SendPerMinute, log)
		log.Info("RateLimit service initialized")
	}

	services.Chat = NewChatService(repos.Chat, repos.User, b, services.RateLimit, ChatOptions{
		RejectSelfMessages: cfg.Chat.RejectSelfMessages,
		IdentityCheck:      cfg.Chat.IdentityCheck,
		MaxContentLength:   cfg.Chat.MaxContentLength,
	}, log)

	return services
}
