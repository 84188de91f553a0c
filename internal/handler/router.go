package handler

import (
	"github.com/gin-gonic/gin"
	"peer_chat/internal/config"
	"peer_chat/internal/middleware"
	"peer_chat/pkg/logger"
)

func NewRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)

	v1 := router.Group("/api/v1")
	chat := v1.Group("/chat")
	chat.Use(rateLimitMiddleware.Limit(), authMiddleware.Authenticate())
	{
		chat.POST("/messages", handlers.Chat.SendMessage)
		chat.GET("/messages/:id", handlers.Chat.GetMessage)
		chat.GET("/history", handlers.Chat.GetHistory)
		chat.GET("/conversations/:userId", handlers.Chat.GetConversations)
		chat.DELETE("/conversations", handlers.Chat.ClearConversation)
		chat.POST("/conversations/archive", handlers.Chat.ArchiveConversation)
	}

	router.GET("/ws/chat/:userId", authMiddleware.Authenticate(), handlers.WebSocket.HandleChat)

	return router
}
