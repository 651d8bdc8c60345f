package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orgcontext"
)

// errEmptyResponse is recorded when a provider returns no text.
var errEmptyResponse = errors.New("provider returned an empty response")

// PromptBuilder renders the organization part of a system prompt.
type PromptBuilder interface {
	BuildSystemPrompt(oc *orgcontext.OrganizationContext, agentPrompt string) string
}

// Response is a generated full response.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Cost       float64
	LatencyMs  int64
}

// ResponseGenerator produces agent turns.
type ResponseGenerator struct {
	provider llm.Provider
	prompts  PromptBuilder
	acks     *Acknowledger
}

// NewResponseGenerator creates a generator.
func NewResponseGenerator(provider llm.Provider, prompts PromptBuilder, acks *Acknowledger) *ResponseGenerator {
	return &ResponseGenerator{provider: provider, prompts: prompts, acks: acks}
}

// Respond asks the provider for a full response. The system prompt is the
// organization context, then the agent's prompt, then the directives.
func (g *ResponseGenerator) Respond(ctx context.Context, agent *model.Agent, transcript *Transcript, oc *orgcontext.OrganizationContext, directives string) (*Response, error) {
	system := ComposeSystemPrompt(g.prompts.BuildSystemPrompt(oc, agent.SystemPrompt), directives)

	reply, err := g.provider.SendMessage(ctx, agent, system, transcript.For(agent.Name))
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return nil, errEmptyResponse
	}

	return &Response{
		Content:    content,
		Model:      reply.Model,
		TokensUsed: reply.TokensUsed,
		Cost:       reply.Cost,
		LatencyMs:  reply.ResponseTimeMs,
	}, nil
}

// Acknowledge returns a canned acknowledgment. It never calls the provider.
func (g *ResponseGenerator) Acknowledge(agent *model.Agent) string {
	return g.acks.Acknowledge(agent)
}
