// Package store persists organizations, agents, conversations and messages.
package store

import (
	"context"
	"errors"

	"github.com/orbitos/conversation-platform/internal/model"
)

// ErrNotFound is returned when a record does not exist for the organization.
var ErrNotFound = errors.New("not found")

// Store defines persistent storage for the conversation platform.
// Both PostgresStore and MemoryStore implement this interface.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Organization operations
	CreateOrganization(ctx context.Context, org *model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	ListOrganizations(ctx context.Context, limit, offset int) ([]model.Organization, int, error)

	// Agent operations
	CreateAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, organizationID, id string) (*model.Agent, error)
	ListAgents(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error)
	UpdateAgent(ctx context.Context, agent *model.Agent) error

	// Conversation operations
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, organizationID, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, organizationID string, limit, offset int) ([]model.Conversation, int, error)
	// UpdateConversation writes title, mode, status, participants and
	// settings. Aggregates are owned by AppendMessages.
	UpdateConversation(ctx context.Context, conv *model.Conversation) error

	// Message operations

	// ListMessages returns messages with SequenceNumber > afterSequence in
	// sequence order. limit <= 0 returns all.
	ListMessages(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]model.Message, error)

	// AppendMessages durably writes msgs in order in one transaction. It
	// assigns gap-free sequence numbers following the conversation's current
	// maximum and updates the conversation aggregates. On success it fills
	// SequenceNumber on each message and returns the updated conversation.
	AppendMessages(ctx context.Context, organizationID, conversationID string, msgs []*model.Message) (*model.Conversation, error)
}

// aggregateDelta sums what a batch of messages adds to a conversation.
type aggregateDelta struct {
	messages    int
	aiResponses int
	tokens      int
	cost        float64
}

func deltaFor(msgs []*model.Message) aggregateDelta {
	var d aggregateDelta
	for _, m := range msgs {
		d.messages++
		if m.IsAIResponse() {
			d.aiResponses++
		}
		d.tokens += m.Tokens()
		d.cost += m.CostValue()
	}
	return d
}
