package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orgcontext"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

const (
	testOrg  = "org-1"
	testConv = "conv-1"
	testUser = "user-1"
)

// fakeScorer scores each agent with a fixed value per agent ID. should
// overrides the threshold comparison for the agents it names. extra results
// are returned ahead of the scored ones.
type fakeScorer struct {
	mu        sync.Mutex
	scores    map[string]float64
	should    map[string]bool
	extra     []model.RelevanceResult
	calls     [][]string
	summaries []string
}

func (f *fakeScorer) Evaluate(_ context.Context, agents []model.Agent, _ []llm.ChatMessage, settings model.EmergentModeSettings, previous string) []model.RelevanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(agents))
	out := append([]model.RelevanceResult(nil), f.extra...)
	for _, a := range agents {
		ids = append(ids, a.ID)
		score := f.scores[a.ID]
		respond, ok := f.should[a.ID]
		if !ok {
			respond = score >= settings.RelevanceThreshold
		}
		out = append(out, model.RelevanceResult{
			AgentID:               a.ID,
			AgentName:             a.Name,
			Score:                 score,
			ShouldRespond:         respond,
			SuggestedResponseType: model.ResponseFull,
			SuggestedStance:       model.StanceBuildOn,
		})
	}
	f.calls = append(f.calls, ids)
	f.summaries = append(f.summaries, previous)
	return out
}

type providerCall struct {
	agentID    string
	system     string
	transcript []llm.ChatMessage
}

// fakeProvider answers "<name> reply <n>" and fails for agents in failFor.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []providerCall
	failFor map[string]bool
	onCall  func(agentID string)
}

func (f *fakeProvider) SendMessage(_ context.Context, agent *model.Agent, system string, transcript []llm.ChatMessage) (*llm.AgentReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, providerCall{agentID: agent.ID, system: system, transcript: transcript})
	n := len(f.calls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(agent.ID)
	}
	if f.failFor[agent.ID] {
		return nil, errors.New("provider exploded")
	}
	return &llm.AgentReply{
		Content:        agent.Name + " reply " + string(rune('0'+n)),
		Model:          "test-model",
		TokensUsed:     100,
		Cost:           0.01,
		ResponseTimeMs: 5,
	}, nil
}

func (f *fakeProvider) agentOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.agentID
	}
	return out
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	batches [][]model.Message
	unread  []model.UnreadEvent
}

func (f *fakeBroadcaster) BroadcastMessages(_ context.Context, _ *model.Conversation, msgs []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakeBroadcaster) NotifyUnread(_ context.Context, event *model.UnreadEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = append(f.unread, *event)
	return nil
}

type harness struct {
	store       *store.MemoryStore
	scorer      *fakeScorer
	provider    *fakeProvider
	broadcaster *fakeBroadcaster
	sleeps      []time.Duration
	orch        *Orchestrator
}

func newHarness(t *testing.T, mode model.ConversationMode, settings model.EmergentModeSettings, agents ...model.Agent) *harness {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateOrganization(ctx, &model.Organization{ID: testOrg, Name: "Acme", Industry: "software"}))
	for i := range agents {
		a := agents[i]
		a.OrganizationID = testOrg
		require.NoError(t, st.CreateAgent(ctx, &a))
	}
	require.NoError(t, st.CreateConversation(ctx, &model.Conversation{
		ID:             testConv,
		OrganizationID: testOrg,
		CreatedBy:      testUser,
		Title:          "Roadmap",
		Mode:           mode,
		Status:         model.StatusActive,
		Participants:   []string{testUser},
		Settings:       settings,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))

	h := &harness{
		store:       st,
		scorer:      &fakeScorer{scores: map[string]float64{}},
		provider:    &fakeProvider{failFor: map[string]bool{}},
		broadcaster: &fakeBroadcaster{},
	}

	builder := orgcontext.NewBuilder(st)
	gen := NewResponseGenerator(h.provider, builder, NewAcknowledger(rand.New(rand.NewPCG(1, 2))))
	h.orch = New(st, h.scorer, gen, builder, h.broadcaster, NewConversationLocker(), logger.Nop(),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
	)
	return h
}

func (h *harness) postUser(t *testing.T, content string) {
	t.Helper()
	_, err := h.store.AppendMessages(context.Background(), testOrg, testConv, []*model.Message{{
		ID:             "user-msg-" + content,
		ConversationID: testConv,
		OrganizationID: testOrg,
		SenderType:     model.SenderUser,
		SenderID:       testUser,
		SenderName:     "Dana",
		Content:        content,
		Status:         model.MessageSent,
		CreatedAt:      time.Now(),
	}})
	require.NoError(t, err)
}

func (h *harness) invoke(t *testing.T, ctx context.Context, agentIDs ...string) (*Result, error) {
	t.Helper()
	return h.orch.Invoke(ctx, InvokeRequest{OrganizationID: testOrg, ConversationID: testConv, AgentIDs: agentIDs})
}

func agent(id, name string) model.Agent {
	return model.Agent{
		ID:                 id,
		Name:               name,
		SystemPrompt:       "You are " + name + ".",
		Provider:           "anthropic",
		CommunicationStyle: model.StyleDirect,
		ReactionTendency:   model.TendencyBalanced,
		SeniorityLevel:     3,
		IsActive:           true,
	}
}

func threeAgents() []model.Agent {
	return []model.Agent{agent("a", "Alice"), agent("b", "Bob"), agent("c", "Carol")}
}

func senderIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.SenderID
	}
	return out
}

func TestEmergentFullResponderAndAcknowledger(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 85, "b": 60, "c": 30}
	h.postUser(t, "Should we expand into Europe?")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, []string{"a", "b"}, senderIDs(res.Messages))
	assert.False(t, res.Messages[0].IsAcknowledgment)
	assert.True(t, res.Messages[1].IsAcknowledgment)
	assert.Equal(t, 1, res.Rounds)
	assert.Empty(t, res.NotAttempted)

	// one provider call; the acknowledgment is canned
	assert.Equal(t, []string{"a"}, h.provider.agentOrder())

	ack := res.Messages[1]
	require.NotNil(t, ack.TokensUsed)
	require.NotNil(t, ack.Cost)
	assert.Zero(t, *ack.TokensUsed)
	assert.Zero(t, *ack.Cost)
	assert.Nil(t, ack.Model)
	assert.Contains(t, acknowledgmentPhrases[model.StyleDirect], ack.Content)

	// round 1 only scores the agent that has not spoken, and it stays quiet
	require.Len(t, h.scorer.calls, 2)
	assert.Equal(t, []string{"c"}, h.scorer.calls[1])
	assert.Contains(t, h.scorer.summaries[1], "Alice: ")

	assert.Equal(t, int64(2), res.Messages[0].SequenceNumber)
	assert.Equal(t, int64(3), res.Messages[1].SequenceNumber)

	conv := res.Conversation
	assert.Equal(t, 3, conv.MessageCount)
	assert.Equal(t, 2, conv.AIResponseCount)
	assert.Equal(t, 100, conv.TotalTokens)
	assert.InDelta(t, 0.01, conv.TotalCost, 1e-9)
	assert.Equal(t, int64(3), conv.LastSequence)
}

func TestEmergentScorerDecidesWhoResponds(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.MaxRoundsPerMessage = 1
	settings.MaxResponsesPerRound = 2
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 85, "b": 60, "c": 30}
	h.scorer.should = map[string]bool{"a": true, "b": true, "c": false}
	h.postUser(t, "Where should we cut costs?")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, senderIDs(res.Messages))
	for _, m := range res.Messages {
		assert.False(t, m.IsAcknowledgment)
	}
	assert.Equal(t, 1, res.Rounds)
	require.Len(t, h.scorer.calls, 2)
	assert.Equal(t, []string{"c"}, h.scorer.calls[1])
}

func TestEmergentSequencesAreContiguous(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.AllowMultipleResponses = true
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80, "c": 75}
	h.postUser(t, "Kick off")

	_, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	all, err := h.store.ListMessages(context.Background(), testConv, 0, 0)
	require.NoError(t, err)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.SequenceNumber)
	}
}

func TestEmergentRespectsRoundAndResponseCaps(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.AllowMultipleResponses = true
	settings.MaxRoundsPerMessage = 1
	settings.MaxResponsesPerRound = 2
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 95, "c": 80}
	h.postUser(t, "Discuss")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, []string{"b", "a", "b", "a"}, senderIDs(res.Messages))
	for i, m := range res.Messages {
		require.NotNil(t, m.Round)
		assert.Equal(t, i/2, *m.Round)
	}

	// second-round speakers are told they already spoke
	calls := h.provider.calls
	require.Len(t, calls, 4)
	assert.NotContains(t, calls[0].system, repeatSpeakerDirective)
	assert.Contains(t, calls[2].system, repeatSpeakerDirective)
	assert.Contains(t, calls[2].system, uniqueInsightDirective)
}

func TestEmergentNoRepeatFullResponders(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.MaxResponsesPerRound = 1
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 85, "c": 80}
	h.postUser(t, "Go")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	// one per round, three rounds, nobody twice
	assert.Equal(t, []string{"a", "b", "c"}, senderIDs(res.Messages))
	assert.Equal(t, 3, res.Rounds)
	for _, m := range res.Messages {
		assert.False(t, m.IsAcknowledgment)
	}
}

func TestEmergentAcknowledgmentsCappedToOpeningRound(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	agents := append(threeAgents(), agent("d", "Dev"))
	h := newHarness(t, model.ModeEmergent, settings, agents...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 60, "c": 55, "d": 65}
	h.postUser(t, "Thoughts?")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	var acks []string
	for _, m := range res.Messages {
		if m.IsAcknowledgment {
			acks = append(acks, m.SenderID)
			assert.Equal(t, 0, *m.Round)
		}
	}
	assert.Equal(t, []string{"b", "c"}, acks)
}

func TestEmergentShowsRelevanceScoresWhenEnabled(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.ShowRelevanceScores = true
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 85}
	h.postUser(t, "Hello")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.NotNil(t, res.Messages[0].RelevanceScore)
	assert.Equal(t, 85.0, *res.Messages[0].RelevanceScore)
}

func TestProviderFailureDoesNotStopRound(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80}
	h.provider.failFor["a"] = true
	h.postUser(t, "Hello")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)

	assert.Equal(t, model.MessageFailed, res.Messages[0].Status)
	assert.Equal(t, model.MessageSent, res.Messages[1].Status)

	// the failed turn is not shown to the next speaker
	second := h.provider.calls[1]
	for _, turn := range second.transcript {
		assert.NotContains(t, turn.Content, "provider exploded")
	}

	assert.Equal(t, 3, res.Conversation.MessageCount)
	assert.Equal(t, 1, res.Conversation.AIResponseCount)
}

func TestLaterSpeakersSeeEarlierTurns(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80}
	h.postUser(t, "Hello")

	_, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	require.Len(t, h.provider.calls, 2)
	second := h.provider.calls[1].transcript
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Alice: "))
	assert.Contains(t, h.provider.calls[0].system, "Acme")
}

func TestSpeakersOwnTurnsStayAssistant(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.AllowMultipleResponses = true
	settings.MaxResponsesPerRound = 2
	settings.MaxRoundsPerMessage = 1
	settings.ShowBriefAcknowledgments = false
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80}
	h.postUser(t, "Hello")

	_, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	// round 1: Alice sees her own earlier turn as assistant, Bob's as user
	require.Len(t, h.provider.calls, 4)
	third := h.provider.calls[2]
	require.Equal(t, "a", third.agentID)
	for _, turn := range third.transcript {
		switch {
		case strings.HasPrefix(turn.Content, "Alice: "):
			assert.Equal(t, llm.RoleAssistant, turn.Role)
		default:
			assert.Equal(t, llm.RoleUser, turn.Role, turn.Content)
		}
	}
	assert.Equal(t, llm.RoleUser, third.transcript[len(third.transcript)-1].Role)
}

func TestUnknownSpeakerSkippedWithoutPacing(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 250
	settings.MaxResponsesPerRound = 3
	settings.MaxRoundsPerMessage = 0
	settings.ShowBriefAcknowledgments = false
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80}
	h.scorer.extra = []model.RelevanceResult{{AgentID: "ghost", Score: 95, ShouldRespond: true}}
	h.postUser(t, "Hello")

	res, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, senderIDs(res.Messages))
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, h.sleeps)
}

func TestPacingBetweenSpeakers(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 250
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80, "c": 75}
	h.postUser(t, "Hello")

	_, err := h.invoke(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, h.sleeps)
}

func TestBroadcastPerRound(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	settings.MaxResponsesPerRound = 1
	settings.ShowBriefAcknowledgments = false
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 85}
	h.postUser(t, "Hello")

	_, err := h.invoke(t, context.Background())
	require.NoError(t, err)

	require.Len(t, h.broadcaster.batches, 2)
	assert.Equal(t, "a", h.broadcaster.batches[0][0].SenderID)
	assert.Equal(t, "b", h.broadcaster.batches[1][0].SenderID)
	require.Len(t, h.broadcaster.unread, 2)
	assert.Equal(t, testUser, h.broadcaster.unread[0].UserID)
	assert.Equal(t, int64(3), h.broadcaster.unread[1].LastSequence)
}

func TestPreconditions(t *testing.T) {
	t.Run("empty transcript", func(t *testing.T) {
		h := newHarness(t, model.ModeEmergent, model.DefaultEmergentSettings(), threeAgents()...)
		_, err := h.invoke(t, context.Background())
		assert.ErrorIs(t, err, ErrEmptyTranscript)
		assert.Empty(t, h.provider.calls)
	})

	t.Run("archived conversation", func(t *testing.T) {
		h := newHarness(t, model.ModeEmergent, model.DefaultEmergentSettings(), threeAgents()...)
		h.postUser(t, "Hello")
		conv, err := h.store.GetConversation(context.Background(), testOrg, testConv)
		require.NoError(t, err)
		conv.Status = model.StatusArchived
		require.NoError(t, h.store.UpdateConversation(context.Background(), conv))

		_, err = h.invoke(t, context.Background())
		assert.ErrorIs(t, err, ErrConversationNotActive)

		all, err := h.store.ListMessages(context.Background(), testConv, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		h := newHarness(t, model.ModeEmergent, model.DefaultEmergentSettings(), threeAgents()...)
		_, err := h.orch.Invoke(context.Background(), InvokeRequest{OrganizationID: testOrg, ConversationID: "missing"})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("no resolvable agents", func(t *testing.T) {
		inactive := agent("z", "Zed")
		inactive.IsActive = false
		h := newHarness(t, model.ModeEmergent, model.DefaultEmergentSettings(), inactive)
		h.postUser(t, "Hello")
		_, err := h.invoke(t, context.Background(), "z", "missing")
		assert.ErrorIs(t, err, ErrNoAgents)
	})
}

func TestStandardModeRespondsInRequestOrder(t *testing.T) {
	h := newHarness(t, model.ModeOnDemand, model.DefaultEmergentSettings(), threeAgents()...)
	h.postUser(t, "Hello")

	res, err := h.invoke(t, context.Background(), "c", "a", "c")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, senderIDs(res.Messages))
	assert.Equal(t, 1, res.Rounds)
	assert.Empty(t, h.scorer.calls)
	assert.Empty(t, h.sleeps)
	for _, m := range res.Messages {
		assert.Nil(t, m.Round)
		assert.False(t, m.IsAcknowledgment)
	}
}

func TestCancellationStopsBeforeNextSpeaker(t *testing.T) {
	settings := model.DefaultEmergentSettings()
	settings.ResponseDelayMs = 0
	h := newHarness(t, model.ModeEmergent, settings, threeAgents()...)
	h.scorer.scores = map[string]float64{"a": 90, "b": 80}
	h.postUser(t, "Hello")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.onCall = func(string) { cancel() }

	res, err := h.invoke(t, ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, senderIDs(res.Messages))
	assert.Equal(t, []string{"b"}, res.NotAttempted)

	// the completed turn was persisted despite the cancellation
	all, err := h.store.ListMessages(context.Background(), testConv, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, h.scorer.calls, 1)
}

func TestSummarizeRoundSkipsFailures(t *testing.T) {
	summary := summarizeRound([]*model.Message{
		{SenderName: "Alice", Content: "first", Status: model.MessageSent},
		{SenderName: "Bob", Content: "boom", Status: model.MessageFailed},
		{SenderName: "Carol", Content: "Agreed.", Status: model.MessageSent, IsAcknowledgment: true},
	})
	assert.Equal(t, "Alice: first\nCarol: Agreed.", summary)
}
