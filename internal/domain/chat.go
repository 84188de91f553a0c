package domain

import (
	"time"
)

// ChatMessage is a single directed message. ID and Timestamp are assigned by the
// message store; Archived is the only field that ever changes after creation.
type ChatMessage struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Archived    bool      `json:"archived"`
}

// Involves reports whether the message belongs to the unordered pair {a, b}.
func (m *ChatMessage) Involves(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// PeerOf returns the other party from userID's point of view, or "" when userID
// is not a party to the message.
func (m *ChatMessage) PeerOf(userID string) string {
	switch userID {
	case m.SenderID:
		return m.RecipientID
	case m.RecipientID:
		return m.SenderID
	default:
		return ""
	}
}

// IsSelf reports a message a user sent to themselves.
func (m *ChatMessage) IsSelf() bool {
	return m.SenderID == m.RecipientID
}

// Before orders messages by timestamp, then id.
func (m *ChatMessage) Before(other *ChatMessage) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

// Conversation is derived on every query and never stored.
type Conversation struct {
	PeerID        string    `json:"userId"`
	PeerName      string    `json:"userName"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
}

// PairKey is the canonical key of the unordered pair {a, b}.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x1f" + b
}
