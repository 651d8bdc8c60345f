package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

const defaultSeniority = 3

var (
	knownStyles = map[model.CommunicationStyle]bool{
		model.StyleFormal: true, model.StyleCasual: true, model.StyleDirect: true,
		model.StyleDiplomatic: true, model.StyleAnalytical: true,
	}
	knownTendencies = map[model.ReactionTendency]bool{
		model.TendencyProactive: true, model.TendencyBalanced: true, model.TendencyReserved: true,
	}
)

// AgentService manages the AI agents of an organization.
type AgentService struct {
	store           store.Store
	defaultProvider llm.ProviderName
	logger          *logger.Logger
}

// NewAgentService creates an agent service. Agents created without a
// provider use defaultProvider.
func NewAgentService(st store.Store, defaultProvider llm.ProviderName, log *logger.Logger) *AgentService {
	return &AgentService{store: st, defaultProvider: defaultProvider, logger: log}
}

// Create creates an agent in an organization.
func (s *AgentService) Create(ctx context.Context, organizationID string, req *model.AgentRequest) (*model.Agent, error) {
	if _, err := s.store.GetOrganization(ctx, organizationID); err != nil {
		return nil, err
	}

	now := time.Now()
	agent := &model.Agent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrganizationID: organizationID,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.apply(agent, req); err != nil {
		return nil, err
	}

	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	s.logger.Info("agent created",
		zap.String("organization_id", organizationID),
		zap.String("agent_id", agent.ID),
		zap.String("provider", agent.Provider),
	)
	return agent, nil
}

// Get returns an agent.
func (s *AgentService) Get(ctx context.Context, organizationID, id string) (*model.Agent, error) {
	return s.store.GetAgent(ctx, organizationID, id)
}

// List returns the agents of an organization.
func (s *AgentService) List(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error) {
	return s.store.ListAgents(ctx, organizationID, activeOnly)
}

// Update replaces an agent's configuration.
func (s *AgentService) Update(ctx context.Context, organizationID, id string, req *model.AgentRequest) (*model.Agent, error) {
	agent, err := s.store.GetAgent(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(agent, req); err != nil {
		return nil, err
	}
	agent.UpdatedAt = time.Now()

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return agent, nil
}

// Deactivate removes an agent from future invocations. Its past messages
// are kept.
func (s *AgentService) Deactivate(ctx context.Context, organizationID, id string) error {
	agent, err := s.store.GetAgent(ctx, organizationID, id)
	if err != nil {
		return err
	}
	agent.IsActive = false
	agent.UpdatedAt = time.Now()

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to deactivate agent: %w", err)
	}

	s.logger.Info("agent deactivated",
		zap.String("organization_id", organizationID),
		zap.String("agent_id", id),
	)
	return nil
}

func (s *AgentService) apply(agent *model.Agent, req *model.AgentRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return invalid("%s", err.Error())
	}

	style := req.CommunicationStyle
	if style == "" {
		style = model.StyleDiplomatic
	}
	if !knownStyles[style] {
		return invalid("unknown communication_style %q", style)
	}

	tendency := req.ReactionTendency
	if tendency == "" {
		tendency = model.TendencyBalanced
	}
	if !knownTendencies[tendency] {
		return invalid("unknown reaction_tendency %q", tendency)
	}

	provider := llm.ProviderName(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider == "" {
		provider = s.defaultProvider
	}
	if provider != llm.ProviderAnthropic && provider != llm.ProviderOpenAI {
		return invalid("unknown provider %q", req.Provider)
	}

	seniority := req.SeniorityLevel
	if seniority == 0 {
		seniority = defaultSeniority
	}

	agent.Name = req.Name
	agent.SystemPrompt = req.SystemPrompt
	agent.Provider = string(provider)
	agent.Model = strings.TrimSpace(req.Model)
	agent.CommunicationStyle = style
	agent.ReactionTendency = tendency
	agent.SeniorityLevel = seniority
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	return nil
}
