package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeNewMessage EventType = "new_message"
)

// ConversationEvent is fanned out to clients subscribed to a conversation.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	OrganizationID string    `json:"organization_id"`
	Type           EventType `json:"type"`
	Message        *Message  `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnreadEvent notifies a user about new messages in a conversation.
type UnreadEvent struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	NewMessages    int       `json:"new_messages"`
	LastSequence   int64     `json:"last_sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
