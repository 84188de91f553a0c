package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"peer_chat/internal/broker"
	"peer_chat/internal/domain"
	"peer_chat/internal/service"
	"peer_chat/pkg/logger"
)

const (
	frameTypeSend    = "send"
	frameTypeMessage = "message"
	frameTypeAck     = "ack"
	frameTypeError   = "error"

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var validate = validator.New()

// inboundFrame is the only frame a client sends: a message for recipientId.
type inboundFrame struct {
	Type        string `json:"type" validate:"required,oneof=send"`
	ClientID    string `json:"clientId" validate:"max=128"`
	RecipientID string `json:"recipientId" validate:"required,max=256"`
	Content     string `json:"content"`
}

type outboundFrame struct {
	Type     string              `json:"type"`
	ClientID string              `json:"clientId,omitempty"`
	Message  *domain.ChatMessage `json:"message,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type WebSocketOptions struct {
	PingInterval time.Duration
	WriteWait    time.Duration
}

type WebSocketHandler struct {
	chatService service.ChatService
	opts        WebSocketOptions
	log         logger.Logger
}

func NewWebSocketHandler(chatService service.ChatService, opts WebSocketOptions, log logger.Logger) *WebSocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	return &WebSocketHandler{
		chatService: chatService,
		opts:        opts,
		log:         log,
	}
}

// HandleChat upgrades the connection into userId's live feed. Messages
// addressed to the user are pushed as they are sent; the client may send
// messages over the same connection.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	userID, ok := actingUser(c, c.Param("userId"), "userId")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := h.chatService.Subscribe(ctx, userID)
	if err != nil {
		h.log.Warn("Failed to subscribe", "error", err, "user_id", userID)
		return
	}
	defer sub.Close()

	log := h.log.With("user_id", userID, "subscription_id", sub.ID.String())
	log.Info("Chat connection opened")

	replies := make(chan outboundFrame, 16)
	go h.readLoop(ctx, cancel, conn, userID, replies, log)
	h.writeLoop(ctx, conn, sub, replies, log)

	log.Info("Chat connection closed")
}

// readLoop owns reads on conn. It cancels ctx when the client goes away.
func (h *WebSocketHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, userID string, replies chan<- outboundFrame, log logger.Logger) {
	defer cancel()

	pongWait := h.opts.PingInterval * 10 / 9
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Unexpected close", "error", err)
			}
			return
		}

		reply := h.handleFrame(ctx, userID, data)
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, userID string, data []byte) outboundFrame {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return outboundFrame{Type: frameTypeError, Error: "malformed frame"}
	}
	if err := validate.Struct(frame); err != nil {
		return outboundFrame{Type: frameTypeError, ClientID: frame.ClientID, Error: err.Error()}
	}

	message, err := h.chatService.Send(ctx, userID, frame.RecipientID, frame.Content)
	if err != nil {
		return outboundFrame{Type: frameTypeError, ClientID: frame.ClientID, Error: err.Error()}
	}
	return outboundFrame{Type: frameTypeAck, ClientID: frame.ClientID, Message: message}
}

// writeLoop owns writes on conn: pushes, replies to inbound frames and pings.
func (h *WebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broker.Subscription, replies <-chan outboundFrame, log logger.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.writeClose(conn)
			return
		case <-sub.Done():
			// Broker shut down.
			h.writeClose(conn)
			return
		case message, ok := <-sub.Messages():
			if !ok {
				h.writeClose(conn)
				return
			}
			if err := h.writeFrame(conn, outboundFrame{Type: frameTypeMessage, Message: message}); err != nil {
				log.Warn("Failed to push message", "error", err, "message_id", message.ID)
				return
			}
		case reply := <-replies:
			if err := h.writeFrame(conn, reply); err != nil {
				log.Warn("Failed to write reply", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
	return conn.WriteJSON(frame)
}

func (h *WebSocketHandler) writeClose(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(h.opts.WriteWait),
	)
}
