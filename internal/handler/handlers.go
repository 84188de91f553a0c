package handler

import (
	"peer_chat/internal/config"
	"peer_chat/internal/repository"
	"peer_chat/internal/service"
	"peer_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(repos.Chat, cfg.Store.Backend, log),
		Chat:   NewChatHandler(services.Chat, services.Conversation, services.Moderation, log),
		WebSocket: NewWebSocketHandler(services.Chat, WebSocketOptions{
			PingInterval: cfg.Chat.PingInterval,
			WriteWait:    cfg.Chat.WriteWait,
		}, log),
	}
}
