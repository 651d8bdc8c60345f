package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitos/conversation-platform/internal/model"
)

func seedConversation(t *testing.T, s *MemoryStore) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{
		ID:             "conv-1",
		OrganizationID: "org-1",
		Mode:           model.ModeEmergent,
		Status:         model.StatusActive,
		Settings:       model.DefaultEmergentSettings(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestAppendMessagesAssignsSequencesAndAggregates(t *testing.T) {
	s := NewMemoryStore()
	seedConversation(t, s)
	ctx := context.Background()

	msgs := []*model.Message{
		{ID: "m1", SenderType: model.SenderUser, Content: "hi", Status: model.MessageSent},
		{ID: "m2", SenderType: model.SenderAI, Content: "hello", Status: model.MessageSent, TokensUsed: intPtr(120), Cost: floatPtr(0.01)},
		{ID: "m3", SenderType: model.SenderAI, Content: "Agreed.", Status: model.MessageSent, IsAcknowledgment: true},
		{ID: "m4", SenderType: model.SenderAI, Content: "provider down", Status: model.MessageFailed},
	}

	conv, err := s.AppendMessages(ctx, "org-1", "conv-1", msgs)
	require.NoError(t, err)

	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.SequenceNumber)
	}
	assert.Equal(t, int64(4), conv.LastSequence)
	assert.Equal(t, 4, conv.MessageCount)
	assert.Equal(t, 2, conv.AIResponseCount)
	assert.Equal(t, 120, conv.TotalTokens)
	assert.InDelta(t, 0.01, conv.TotalCost, 1e-12)

	listed, err := s.ListMessages(ctx, "conv-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "m3", listed[0].ID)
}

func TestAppendMessagesConcurrentWritersAreGapFree(t *testing.T) {
	s := NewMemoryStore()
	seedConversation(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := s.AppendMessages(ctx, "org-1", "conv-1", []*model.Message{
					{ID: fmt.Sprintf("w%d-%d-a", w, i), SenderType: model.SenderUser, Status: model.MessageSent},
					{ID: fmt.Sprintf("w%d-%d-b", w, i), SenderType: model.SenderUser, Status: model.MessageSent},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	all, err := s.ListMessages(ctx, "conv-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 160)

	seqs := make([]int64, len(all))
	for i, m := range all {
		seqs[i] = m.SequenceNumber
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestAppendMessagesUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	seedConversation(t, s)

	_, err := s.AppendMessages(context.Background(), "org-2", "conv-1", []*model.Message{{ID: "x"}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetConversationScopedToOrganization(t *testing.T) {
	s := NewMemoryStore()
	seedConversation(t, s)

	_, err := s.GetConversation(context.Background(), "org-2", "conv-1")
	require.ErrorIs(t, err, ErrNotFound)

	conv, err := s.GetConversation(context.Background(), "org-1", "conv-1")
	require.NoError(t, err)
	conv.Title = "mutated copy"

	again, err := s.GetConversation(context.Background(), "org-1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, again.Title)
}

func TestListAgentsActiveOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: "a1", OrganizationID: "org-1", IsActive: true, CreatedAt: now}))
	require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: "a2", OrganizationID: "org-1", IsActive: false, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: "a3", OrganizationID: "org-2", IsActive: true, CreatedAt: now}))

	active, err := s.ListAgents(ctx, "org-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	all, err := s.ListAgents(ctx, "org-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListAgentsBreaksTimestampTiesByID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"d", "b", "a", "c"} {
		require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: id, OrganizationID: "org-1", IsActive: true}))
	}

	for range 50 {
		agents, err := s.ListAgents(ctx, "org-1", false)
		require.NoError(t, err)
		ids := make([]string, len(agents))
		for i, a := range agents {
			ids[i] = a.ID
		}
		require.Equal(t, []string{"a", "b", "c", "d"}, ids)
	}
}
