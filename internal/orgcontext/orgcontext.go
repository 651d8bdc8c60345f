// Package orgcontext turns organization records into prompt context for agents.
package orgcontext

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbitos/conversation-platform/internal/model"
)

// OrganizationContext is the organization knowledge shared with every agent.
type OrganizationContext struct {
	OrganizationID string
	Name           string
	Industry       string
	Description    string
	Mission        string
	ActiveAgents   []string
}

// Source is the subset of the store the builder reads.
type Source interface {
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	ListAgents(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error)
}

// Builder loads organization context and renders system prompts.
type Builder struct {
	source Source
}

// NewBuilder creates a builder backed by source.
func NewBuilder(source Source) *Builder {
	return &Builder{source: source}
}

// BuildContext loads the context for an organization.
func (b *Builder) BuildContext(ctx context.Context, organizationID string) (*OrganizationContext, error) {
	org, err := b.source.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	agents, err := b.source.ListAgents(ctx, organizationID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}

	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}

	return &OrganizationContext{
		OrganizationID: org.ID,
		Name:           org.Name,
		Industry:       org.Industry,
		Description:    org.Description,
		Mission:        org.Mission,
		ActiveAgents:   names,
	}, nil
}

// BuildSystemPrompt renders the organization context followed by the agent's
// own prompt.
func (b *Builder) BuildSystemPrompt(oc *OrganizationContext, agentPrompt string) string {
	var sb strings.Builder

	if oc != nil {
		fmt.Fprintf(&sb, "You are advising %s", oc.Name)
		if oc.Industry != "" {
			fmt.Fprintf(&sb, ", an organization in the %s industry", oc.Industry)
		}
		sb.WriteString(".\n")
		if oc.Description != "" {
			fmt.Fprintf(&sb, "About the organization: %s\n", oc.Description)
		}
		if oc.Mission != "" {
			fmt.Fprintf(&sb, "Mission: %s\n", oc.Mission)
		}
		if len(oc.ActiveAgents) > 0 {
			fmt.Fprintf(&sb, "Advisors in this meeting may include: %s.\n", strings.Join(oc.ActiveAgents, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(strings.TrimSpace(agentPrompt))
	return sb.String()
}
