// Package model defines data structures for the conversation platform.
package model

import (
	"time"
)

// ConversationMode selects how agents are invoked in a conversation.
type ConversationMode string

const (
	ModeOnDemand ConversationMode = "on_demand"
	ModeEmergent ConversationMode = "emergent"
)

// Valid reports whether m is a known mode.
func (m ConversationMode) Valid() bool {
	return m == ModeOnDemand || m == ModeEmergent
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusPaused   ConversationStatus = "paused"
	StatusArchived ConversationStatus = "archived"
)

// Conversation represents a conversation thread.
type Conversation struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	CreatedBy      string             `json:"created_by"`
	Title          string             `json:"title"`
	Mode           ConversationMode   `json:"mode"`
	Status         ConversationStatus `json:"status"`

	// Aggregates, maintained by the store when messages are appended.
	MessageCount    int     `json:"message_count"`
	AIResponseCount int     `json:"ai_response_count"`
	TotalTokens     int     `json:"total_tokens"`
	TotalCost       float64 `json:"total_cost"`
	LastSequence    int64   `json:"last_sequence"`

	Participants []string             `json:"participants,omitempty"`
	Settings     EmergentModeSettings `json:"settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title    string                `json:"title"`
	Mode     ConversationMode      `json:"mode,omitempty"`
	Settings *EmergentModeSettings `json:"settings,omitempty"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Title string           `json:"title,omitempty"`
	Mode  ConversationMode `json:"mode,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
