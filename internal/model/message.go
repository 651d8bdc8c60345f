package model

import (
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderAI   SenderType = "ai"
)

// MessageStatus is the delivery outcome of a message.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

// Message represents a conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	OrganizationID string `json:"organization_id"`

	// Sender
	SenderType SenderType `json:"sender_type"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`

	Content        string        `json:"content"`
	SequenceNumber int64         `json:"sequence_number"`
	Status         MessageStatus `json:"status"`

	// AI metadata. Nil for user messages; zero tokens and cost for acknowledgments.
	Model      *string  `json:"model,omitempty"`
	TokensUsed *int     `json:"tokens_used,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
	LatencyMs  *int64   `json:"latency_ms,omitempty"`

	IsAcknowledgment bool     `json:"is_acknowledgment,omitempty"`
	Round            *int     `json:"round,omitempty"`
	RelevanceScore   *float64 `json:"relevance_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsAIResponse reports whether the message counts as a delivered AI response.
func (m *Message) IsAIResponse() bool {
	return m.SenderType == SenderAI && m.Status == MessageSent
}

// Tokens returns the token count, zero when not reported.
func (m *Message) Tokens() int {
	if m.TokensUsed == nil {
		return 0
	}
	return *m.TokensUsed
}

// CostValue returns the cost, zero when not reported.
func (m *Message) CostValue() float64 {
	if m.Cost == nil {
		return 0
	}
	return *m.Cost
}

// SendMessageRequest is the request to post a user message.
type SendMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name,omitempty"`
}

// SendMessageResponse is the response after posting a message.
type SendMessageResponse struct {
	Message  *Message `json:"message"`
	Sequence int64    `json:"sequence"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	LastSequence int64     `json:"last_sequence"`
}

// InvokeAgentsRequest asks agents to respond to the conversation.
type InvokeAgentsRequest struct {
	AgentIDs []string `json:"agent_ids"`
}

// InvokeAgentsResponse lists every message produced by an invocation. Error
// is set when the invocation stopped on a failure after some rounds were
// already committed.
type InvokeAgentsResponse struct {
	Messages     []Message `json:"messages"`
	Rounds       int       `json:"rounds"`
	NotAttempted []string  `json:"not_attempted,omitempty"`
	Error        string    `json:"error,omitempty"`
}
