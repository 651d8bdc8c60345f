package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitos/conversation-platform/internal/model"
)

type stubClient struct {
	name    string
	resp    *CompletionResponse
	err     error
	lastReq *CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubClient) Name() string         { return s.name }
func (s *stubClient) Models() []string     { return []string{s.name + "-model"} }
func (s *stubClient) DefaultModel() string { return s.name + "-default" }

func TestRouterDispatchesByProvider(t *testing.T) {
	anth := &stubClient{name: "anthropic", resp: &CompletionResponse{
		Content: "hello", Model: "claude-3-5-haiku-20241022", TokensIn: 1000, TokensOut: 500, LatencyMs: 42,
	}}
	oai := &stubClient{name: "openai", resp: &CompletionResponse{Content: "other"}}
	r := NewRouter(ProviderAnthropic, 0, 256, anth, oai)

	agent := &model.Agent{Name: "CFO", Provider: "anthropic", Model: "claude-3-5-haiku-20241022"}
	reply, err := r.SendMessage(context.Background(), agent, "be useful", []ChatMessage{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "hello", reply.Content)
	assert.Equal(t, 1500, reply.TokensUsed)
	assert.Equal(t, int64(42), reply.ResponseTimeMs)
	assert.InDelta(t, (1000*0.80+500*4.00)/1_000_000, reply.Cost, 1e-12)

	require.NotNil(t, anth.lastReq)
	assert.Equal(t, "be useful", anth.lastReq.System)
	assert.Equal(t, 256, anth.lastReq.MaxTokens)
	assert.Nil(t, oai.lastReq)
}

func TestRouterFallsBackToDefaultProvider(t *testing.T) {
	oai := &stubClient{name: "openai", resp: &CompletionResponse{Content: "ok"}}
	r := NewRouter(ProviderOpenAI, 0, 0, oai)

	agent := &model.Agent{Provider: "anthropic", Model: "claude-3-opus-20240229"}
	_, err := r.SendMessage(context.Background(), agent, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "openai-default", oai.lastReq.Model)
}

func TestRouterWithoutClients(t *testing.T) {
	r := NewRouter(ProviderAnthropic, 0, 0)
	assert.True(t, r.Empty())

	_, err := r.SendMessage(context.Background(), &model.Agent{Provider: "anthropic"}, "", nil)
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRouterWrapsClientErrors(t *testing.T) {
	boom := errors.New("overloaded")
	r := NewRouter(ProviderAnthropic, 0, 0, &stubClient{name: "anthropic", err: boom})

	_, err := r.SendMessage(context.Background(), &model.Agent{Provider: "anthropic"}, "", nil)
	require.ErrorIs(t, err, boom)
}

func TestEstimateCost(t *testing.T) {
	assert.InDelta(t, 0.15+0.60, EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 2.50, EstimateCost("gpt-4o", 1_000_000, 0), 1e-9)
	assert.Zero(t, EstimateCost("mystery-model", 1000, 1000))
}

func TestAlternateTurns(t *testing.T) {
	out := alternateTurns([]ChatMessage{
		{Role: RoleAssistant, Content: "[CFO]: numbers"},
		{Role: RoleAssistant, Content: "[CTO]: systems"},
		{Role: RoleUser, Content: "thoughts?"},
		{Role: "system", Content: "note"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, RoleAssistant, out[1].Role)
	assert.Equal(t, "[CFO]: numbers\n\n[CTO]: systems", out[1].Content)
	assert.Equal(t, RoleUser, out[2].Role)
	assert.Equal(t, "thoughts?\n\nnote", out[2].Content)
}

func TestAlternateTurnsEndsOnUser(t *testing.T) {
	out := alternateTurns([]ChatMessage{
		{Role: RoleUser, Content: "Dana: should we expand to EU?"},
		{Role: RoleAssistant, Content: "Alice: yes, margins support it"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "Alice: yes, margins support it", out[1].Content)
	assert.Equal(t, RoleUser, out[2].Role)

	single := alternateTurns([]ChatMessage{{Role: RoleAssistant, Content: "Bob: ready"}})
	require.Len(t, single, 3)
	assert.Equal(t, RoleUser, single[0].Role)
	assert.Equal(t, RoleAssistant, single[1].Role)
	assert.Equal(t, RoleUser, single[2].Role)

	assert.Empty(t, alternateTurns(nil))
}
