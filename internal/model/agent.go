package model

import (
	"errors"
	"time"
)

// CommunicationStyle shapes an agent's tone.
type CommunicationStyle string

const (
	StyleFormal     CommunicationStyle = "formal"
	StyleCasual     CommunicationStyle = "casual"
	StyleDirect     CommunicationStyle = "direct"
	StyleDiplomatic CommunicationStyle = "diplomatic"
	StyleAnalytical CommunicationStyle = "analytical"
)

// ReactionTendency describes how eagerly an agent joins a discussion.
type ReactionTendency string

const (
	TendencyProactive ReactionTendency = "proactive"
	TendencyBalanced  ReactionTendency = "balanced"
	TendencyReserved  ReactionTendency = "reserved"
)

// Agent is an AI participant configured by an organization.
type Agent struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	SystemPrompt   string `json:"system_prompt"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`

	CommunicationStyle CommunicationStyle `json:"communication_style"`
	ReactionTendency   ReactionTendency   `json:"reaction_tendency"`
	SeniorityLevel     int                `json:"seniority_level"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentRequest creates or updates an agent.
type AgentRequest struct {
	Name               string             `json:"name"`
	SystemPrompt       string             `json:"system_prompt"`
	Provider           string             `json:"provider"`
	Model              string             `json:"model"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
	ReactionTendency   ReactionTendency   `json:"reaction_tendency"`
	SeniorityLevel     int                `json:"seniority_level"`
	IsActive           *bool              `json:"is_active,omitempty"`
}

// Validate checks the request fields.
func (r *AgentRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > 128 {
		return errors.New("name exceeds maximum length")
	}
	if r.SeniorityLevel < 0 || r.SeniorityLevel > 5 {
		return errors.New("seniority_level must be between 1 and 5")
	}
	return nil
}

// Organization is a tenant of the platform.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Industry    string    `json:"industry,omitempty"`
	Description string    `json:"description,omitempty"`
	Mission     string    `json:"mission,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrganizationRequest creates an organization.
type OrganizationRequest struct {
	Name        string `json:"name"`
	Industry    string `json:"industry,omitempty"`
	Description string `json:"description,omitempty"`
	Mission     string `json:"mission,omitempty"`
}
