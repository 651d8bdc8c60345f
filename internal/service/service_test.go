package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []model.Message
	unread   []model.UnreadEvent
}

func (r *recordingBroadcaster) BroadcastMessages(_ context.Context, _ *model.Conversation, msgs []model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msgs...)
	return nil
}

func (r *recordingBroadcaster) NotifyUnread(_ context.Context, e *model.UnreadEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread = append(r.unread, *e)
	return nil
}

type fixture struct {
	store         *store.MemoryStore
	orgs          *OrganizationService
	agents        *AgentService
	conversations *ConversationService
	messages      *MessageService
	broadcaster   *recordingBroadcaster
	orgID         string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	log := logger.Nop()
	b := &recordingBroadcaster{}

	f := &fixture{
		store:       st,
		orgs:        NewOrganizationService(st, log),
		agents:      NewAgentService(st, llm.ProviderAnthropic, log),
		broadcaster: b,
	}
	f.conversations = NewConversationService(st, model.DefaultEmergentSettings(), log)
	f.messages = NewMessageService(st, orchestrator.NewConversationLocker(), b, f.conversations, log)

	org, err := f.orgs.Create(context.Background(), &model.OrganizationRequest{Name: "Acme", Industry: "retail"})
	require.NoError(t, err)
	f.orgID = org.ID
	return f
}

func (f *fixture) conversation(t *testing.T, mode model.ConversationMode) *model.Conversation {
	t.Helper()
	conv, err := f.conversations.Create(context.Background(), f.orgID, "user-1", &model.CreateConversationRequest{Title: "Plan", Mode: mode})
	require.NoError(t, err)
	return conv
}

func TestOrganizationCreateRequiresName(t *testing.T) {
	f := newFixture(t)
	_, err := f.orgs.Create(context.Background(), &model.OrganizationRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	orgs, total, err := f.orgs.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Acme", orgs[0].Name)
}

func TestAgentDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.agents.Create(ctx, f.orgID, &model.AgentRequest{Name: " Ada ", SystemPrompt: "CFO"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", a.Name)
	assert.Equal(t, "anthropic", a.Provider)
	assert.Equal(t, model.StyleDiplomatic, a.CommunicationStyle)
	assert.Equal(t, model.TendencyBalanced, a.ReactionTendency)
	assert.Equal(t, 3, a.SeniorityLevel)
	assert.True(t, a.IsActive)

	tests := []struct {
		name string
		req  model.AgentRequest
	}{
		{"missing name", model.AgentRequest{}},
		{"bad style", model.AgentRequest{Name: "x", CommunicationStyle: "sarcastic"}},
		{"bad tendency", model.AgentRequest{Name: "x", ReactionTendency: "eager"}},
		{"bad provider", model.AgentRequest{Name: "x", Provider: "mystery"}},
		{"bad seniority", model.AgentRequest{Name: "x", SeniorityLevel: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.agents.Create(ctx, f.orgID, &tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err = f.agents.Create(ctx, "missing-org", &model.AgentRequest{Name: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAgentDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.agents.Create(ctx, f.orgID, &model.AgentRequest{Name: "Ada", Provider: "OpenAI"})
	require.NoError(t, err)
	assert.Equal(t, "openai", a.Provider)

	require.NoError(t, f.agents.Deactivate(ctx, f.orgID, a.ID))

	active, err := f.agents.List(ctx, f.orgID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.agents.List(ctx, f.orgID, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConversationCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.conversation(t, "")
	assert.Equal(t, model.ModeOnDemand, conv.Mode)
	assert.Equal(t, model.StatusActive, conv.Status)
	assert.Equal(t, model.DefaultEmergentSettings(), conv.Settings)
	assert.Equal(t, []string{"user-1"}, conv.Participants)

	_, err := f.conversations.Create(ctx, f.orgID, "u", &model.CreateConversationRequest{Mode: "chaotic"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	inverted := model.DefaultEmergentSettings()
	inverted.AcknowledgmentThreshold = 90
	_, err = f.conversations.Create(ctx, f.orgID, "u", &model.CreateConversationRequest{Mode: model.ModeEmergent, Settings: &inverted})
	assert.ErrorIs(t, err, model.ErrInvertedThresholds)
}

func TestConversationUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeEmergent)

	s := model.DefaultEmergentSettings()
	s.RelevanceThreshold = 40
	s.AcknowledgmentThreshold = 60
	_, err := f.conversations.UpdateSettings(ctx, f.orgID, conv.ID, s)
	assert.ErrorIs(t, err, model.ErrInvertedThresholds)
	assert.ErrorIs(t, err, ErrInvalidInput)

	s.AcknowledgmentThreshold = 30
	updated, err := f.conversations.UpdateSettings(ctx, f.orgID, conv.ID, s)
	require.NoError(t, err)
	assert.Equal(t, 40.0, updated.Settings.RelevanceThreshold)

	stored, err := f.conversations.Get(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, stored.Settings.AcknowledgmentThreshold)
}

func TestConversationPatchSettingsKeepsUntouchedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeEmergent)
	before := conv.Settings

	updated, err := f.conversations.PatchSettings(ctx, f.orgID, conv.ID, func(s *model.EmergentModeSettings) error {
		s.RelevanceThreshold = 80
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, updated.Settings.RelevanceThreshold)
	assert.Equal(t, before.MaxResponsesPerRound, updated.Settings.MaxResponsesPerRound)
	assert.Equal(t, before.AcknowledgmentThreshold, updated.Settings.AcknowledgmentThreshold)

	_, err = f.conversations.PatchSettings(ctx, f.orgID, conv.ID, func(*model.EmergentModeSettings) error {
		return errors.New("bad body")
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	stored, err := f.conversations.Get(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, stored.Settings.RelevanceThreshold)
}

func TestConversationStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeEmergent)

	_, err := f.conversations.Resume(ctx, f.orgID, conv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	paused, err := f.conversations.Pause(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Status)

	_, err = f.conversations.Pause(ctx, f.orgID, conv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resumed, err := f.conversations.Resume(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, resumed.Status)

	archived, err := f.conversations.Archive(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, archived.Status)

	_, err = f.conversations.Archive(ctx, f.orgID, conv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.conversations.Resume(ctx, f.orgID, conv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConversationListPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.conversation(t, model.ModeOnDemand)
	}

	page, err := f.conversations.List(context.Background(), f.orgID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	page, err = f.conversations.List(context.Background(), f.orgID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.False(t, page.HasMore)
}

func TestPostUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeEmergent)

	resp, err := f.messages.PostUserMessage(ctx, f.orgID, "user-1", conv.ID, &model.SendMessageRequest{Content: " hello ", SenderName: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Sequence)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, "Dana", resp.Message.SenderName)

	// a second user joins and the first is notified
	resp, err = f.messages.PostUserMessage(ctx, f.orgID, "user-2", conv.ID, &model.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Sequence)
	assert.Equal(t, "user-2", resp.Message.SenderName)

	stored, err := f.conversations.Get(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, stored.Participants)
	assert.Equal(t, 2, stored.MessageCount)
	assert.Zero(t, stored.AIResponseCount)

	require.Len(t, f.broadcaster.messages, 2)
	require.Len(t, f.broadcaster.unread, 1)
	assert.Equal(t, "user-1", f.broadcaster.unread[0].UserID)
	assert.Equal(t, int64(2), f.broadcaster.unread[0].LastSequence)
}

func TestPostUserMessageRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeEmergent)

	_, err := f.messages.PostUserMessage(ctx, f.orgID, "user-1", conv.ID, &model.SendMessageRequest{Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.messages.PostUserMessage(ctx, f.orgID, "user-1", "missing", &model.SendMessageRequest{Content: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.conversations.Archive(ctx, f.orgID, conv.ID)
	require.NoError(t, err)
	_, err = f.messages.PostUserMessage(ctx, f.orgID, "user-1", conv.ID, &model.SendMessageRequest{Content: "x"})
	assert.ErrorIs(t, err, orchestrator.ErrConversationNotActive)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, model.ModeOnDemand)

	for _, c := range []string{"one", "two", "three"} {
		_, err := f.messages.PostUserMessage(ctx, f.orgID, "user-1", conv.ID, &model.SendMessageRequest{Content: c})
		require.NoError(t, err)
	}

	resp, err := f.messages.List(ctx, f.orgID, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, int64(2), resp.LastSequence)

	resp, err = f.messages.List(ctx, f.orgID, conv.ID, resp.LastSequence, 2)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "three", resp.Messages[0].Content)
	assert.False(t, resp.HasMore)

	resp, err = f.messages.List(ctx, f.orgID, conv.ID, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Messages)
	assert.Equal(t, int64(3), resp.LastSequence)
}
