package domain

import (
	"time"
)

type AuditLog struct {
	ID          int64                  `json:"id"`
	EventTime   time.Time              `json:"event_time"`
	ActorUserID string                 `json:"actor_user_id"`
	PeerUserID  string                 `json:"peer_user_id"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
}

const (
	EventTypeConversationArchived = "CONVERSATION_ARCHIVED"
	EventTypeConversationCleared  = "CONVERSATION_CLEARED"
)
