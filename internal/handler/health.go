package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"peer_chat/internal/repository"
	"peer_chat/pkg/logger"
)

type HealthHandler struct {
	chatRepo repository.ChatRepository
	backend  string
	log      logger.Logger
}

func NewHealthHandler(chatRepo repository.ChatRepository, backend string, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		chatRepo: chatRepo,
		backend:  backend,
		log:      log,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.chatRepo.Ping(ctx); err != nil {
		h.log.Warn("Health check failed", "error", err, "store", h.backend)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": "peer-chat",
			"store":   h.backend,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "peer-chat",
		"store":   h.backend,
	})
}
