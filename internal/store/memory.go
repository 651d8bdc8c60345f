package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orbitos/conversation-platform/internal/model"
)

// MemoryStore keeps everything in process memory. It is used for tests and
// for running the API without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	organizations map[string]*model.Organization
	agents        map[string]*model.Agent
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		organizations: make(map[string]*model.Organization),
		agents:        make(map[string]*model.Agent),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateOrganization stores a new organization.
func (s *MemoryStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *org
	s.organizations[org.ID] = &c
	return nil
}

// GetOrganization returns an organization by ID.
func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *org
	return &c, nil
}

// ListOrganizations returns organizations ordered by creation time.
func (s *MemoryStore) ListOrganizations(ctx context.Context, limit, offset int) ([]model.Organization, int, error) {
	s.mu.RLock()
	orgs := make([]model.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		orgs = append(orgs, *org)
	}
	s.mu.RUnlock()

	sort.Slice(orgs, func(i, j int) bool {
		if !orgs[i].CreatedAt.Equal(orgs[j].CreatedAt) {
			return orgs[i].CreatedAt.Before(orgs[j].CreatedAt)
		}
		return orgs[i].ID < orgs[j].ID
	})
	return page(orgs, limit, offset), len(orgs), nil
}

// CreateAgent stores a new agent.
func (s *MemoryStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *agent
	s.agents[agent.ID] = &c
	return nil
}

// GetAgent returns an agent of the organization.
func (s *MemoryStore) GetAgent(ctx context.Context, organizationID, id string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok || agent.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	c := *agent
	return &c, nil
}

// ListAgents returns the organization's agents ordered by creation time,
// then ID.
func (s *MemoryStore) ListAgents(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error) {
	s.mu.RLock()
	var agents []model.Agent
	for _, a := range s.agents {
		if a.OrganizationID != organizationID || (activeOnly && !a.IsActive) {
			continue
		}
		agents = append(agents, *a)
	}
	s.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool {
		if !agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].CreatedAt.Before(agents[j].CreatedAt)
		}
		return agents[i].ID < agents[j].ID
	})
	return agents, nil
}

// UpdateAgent replaces an existing agent.
func (s *MemoryStore) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.agents[agent.ID]
	if !ok || existing.OrganizationID != agent.OrganizationID {
		return ErrNotFound
	}
	c := *agent
	s.agents[agent.ID] = &c
	return nil
}

// CreateConversation stores a new conversation.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// GetConversation returns a conversation of the organization.
func (s *MemoryStore) GetConversation(ctx context.Context, organizationID, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || conv.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListConversations returns the organization's conversations, most recently
// updated first.
func (s *MemoryStore) ListConversations(ctx context.Context, organizationID string, limit, offset int) ([]model.Conversation, int, error) {
	s.mu.RLock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.OrganizationID == organizationID {
			convs = append(convs, *cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
	return page(convs, limit, offset), len(convs), nil
}

// UpdateConversation writes the mutable non-aggregate fields.
func (s *MemoryStore) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok || existing.OrganizationID != conv.OrganizationID {
		return ErrNotFound
	}
	existing.Title = conv.Title
	existing.Mode = conv.Mode
	existing.Status = conv.Status
	existing.Settings = conv.Settings
	existing.Participants = append([]string(nil), conv.Participants...)
	existing.UpdatedAt = conv.UpdatedAt
	return nil
}

// ListMessages returns messages after a sequence number.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages[conversationID] {
		if m.SequenceNumber <= afterSequence {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AppendMessages writes a batch atomically under the store lock.
func (s *MemoryStore) AppendMessages(ctx context.Context, organizationID, conversationID string, msgs []*model.Message) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.OrganizationID != organizationID {
		return nil, ErrNotFound
	}

	seq := conv.LastSequence
	for _, m := range msgs {
		seq++
		m.SequenceNumber = seq
		s.messages[conversationID] = append(s.messages[conversationID], *m)
	}

	d := deltaFor(msgs)
	conv.LastSequence = seq
	conv.MessageCount += d.messages
	conv.AIResponseCount += d.aiResponses
	conv.TotalTokens += d.tokens
	conv.TotalCost += d.cost
	conv.UpdatedAt = time.Now()

	return cloneConversation(conv), nil
}

func cloneConversation(conv *model.Conversation) *model.Conversation {
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	total := len(items)
	start := offset
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}
	return items[start:end]
}
