package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/pkg/metrics"
)

// AgentReply is the outcome of one agent turn.
type AgentReply struct {
	Content        string
	Model          string
	TokensIn       int
	TokensOut      int
	TokensUsed     int
	Cost           float64
	ResponseTimeMs int64
}

// Provider sends an agent's turn to whichever model backs the agent.
type Provider interface {
	SendMessage(ctx context.Context, agent *model.Agent, systemPrompt string, transcript []ChatMessage) (*AgentReply, error)
}

// Router dispatches agent turns to the configured clients by provider name.
type Router struct {
	clients   map[ProviderName]Client
	fallback  ProviderName
	timeout   time.Duration
	maxTokens int
}

// NewRouter creates a router. fallback is used for agents whose provider has
// no client. A zero timeout disables the per-call deadline.
func NewRouter(fallback ProviderName, timeout time.Duration, maxTokens int, clients ...Client) *Router {
	r := &Router{
		clients:   make(map[ProviderName]Client, len(clients)),
		fallback:  fallback,
		timeout:   timeout,
		maxTokens: maxTokens,
	}
	for _, c := range clients {
		if c != nil {
			r.clients[ProviderName(c.Name())] = c
		}
	}
	return r
}

// Client returns the client for a provider, falling back to the default
// provider and then to any configured client.
func (r *Router) Client(provider string) Client {
	if c, ok := r.clients[ProviderName(provider)]; ok {
		return c
	}
	if c, ok := r.clients[r.fallback]; ok {
		return c
	}
	for _, c := range r.clients {
		return c
	}
	return nil
}

// Empty reports whether no client is configured.
func (r *Router) Empty() bool {
	return len(r.clients) == 0
}

// SendMessage implements Provider.
func (r *Router) SendMessage(ctx context.Context, agent *model.Agent, systemPrompt string, transcript []ChatMessage) (*AgentReply, error) {
	client := r.Client(agent.Provider)
	if client == nil {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, agent.Provider)
	}

	modelName := agent.Model
	if modelName == "" || ProviderName(agent.Provider) != ProviderName(client.Name()) {
		modelName = client.DefaultModel()
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Complete(ctx, &CompletionRequest{
		Model:     modelName,
		System:    systemPrompt,
		Messages:  append([]ChatMessage(nil), transcript...),
		MaxTokens: r.maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordLLMCall(client.Name(), modelName, "error", elapsed.Seconds(), 0, 0, 0)
		return nil, fmt.Errorf("%s completion failed: %w", client.Name(), err)
	}

	if resp.Model != "" {
		modelName = resp.Model
	}
	cost := EstimateCost(modelName, resp.TokensIn, resp.TokensOut)
	metrics.RecordLLMCall(client.Name(), modelName, "success", elapsed.Seconds(), resp.TokensIn, resp.TokensOut, cost)

	latency := resp.LatencyMs
	if latency == 0 {
		latency = elapsed.Milliseconds()
	}

	return &AgentReply{
		Content:        resp.Content,
		Model:          modelName,
		TokensIn:       resp.TokensIn,
		TokensOut:      resp.TokensOut,
		TokensUsed:     resp.TokensIn + resp.TokensOut,
		Cost:           cost,
		ResponseTimeMs: latency,
	}, nil
}
