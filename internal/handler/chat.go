package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"peer_chat/internal/middleware"
	"peer_chat/internal/service"
	apperrors "peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

type ChatHandler struct {
	chatService         service.ChatService
	conversationService service.ConversationService
	moderationService   service.ModerationService
	log                 logger.Logger
}

func NewChatHandler(
	chatService service.ChatService,
	conversationService service.ConversationService,
	moderationService service.ModerationService,
	log logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
		moderationService:   moderationService,
		log:                 log,
	}
}

type SendMessageRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId" binding:"required"`
	Content     string `json:"content"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err))
		return
	}

	senderID, ok := actingUser(c, req.SenderID, "senderId")
	if !ok {
		return
	}

	message, err := h.chatService.Send(c.Request.Context(), senderID, req.RecipientID, req.Content)
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to send message")
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := actingUser(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	messages, err := h.chatService.History(c.Request.Context(), userID, c.Query("otherUserId"))
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to load history")
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (h *ChatHandler) GetMessage(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(fmt.Errorf("%w: invalid message ID", apperrors.ErrBadRequest))
		return
	}

	message, err := h.chatService.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to load message")
		return
	}

	// Authenticated callers only see messages they are a party to.
	if userID, ok := middleware.AuthenticatedUser(c); ok && message.PeerOf(userID) == "" {
		h.log.Debug("Message hidden from non-party", "message_id", messageID, "user_id", userID)
		_ = c.Error(fmt.Errorf("message %d: %w", messageID, apperrors.ErrNotFound))
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *ChatHandler) GetConversations(c *gin.Context) {
	userID, ok := actingUser(c, c.Param("userId"), "userId")
	if !ok {
		return
	}

	conversations, err := h.conversationService.ConversationsFor(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to load conversations")
		return
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *ChatHandler) ClearConversation(c *gin.Context) {
	userID, ok := actingUser(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	deleted, err := h.moderationService.ClearConversation(c.Request.Context(), userID, c.Query("otherUserId"))
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to clear conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation cleared.", "deleted": deleted})
}

func (h *ChatHandler) ArchiveConversation(c *gin.Context) {
	userID, ok := actingUser(c, c.Query("userId"), "userId")
	if !ok {
		return
	}

	archived, err := h.moderationService.ArchiveConversation(c.Request.Context(), userID, c.Query("otherUserId"))
	if err != nil {
		_ = c.Error(err).SetMeta("Failed to archive conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation archived.", "archived": archived})
}

// actingUser attaches the error for ErrorHandler when the caller cannot act as claimed.
func actingUser(c *gin.Context, claimed, field string) (string, bool) {
	userID, ok := middleware.ActingUser(c, claimed)
	if ok {
		return userID, true
	}
	if _, authenticated := middleware.AuthenticatedUser(c); authenticated {
		_ = c.Error(fmt.Errorf("%w: %s does not match the authenticated user", apperrors.ErrForbidden, field))
	} else {
		_ = c.Error(fmt.Errorf("%w: %s is required", apperrors.ErrBadRequest, field))
	}
	return "", false
}
