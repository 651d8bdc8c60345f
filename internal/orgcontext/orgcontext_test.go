package orgcontext

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/store"
)

func TestBuildContextAndPrompt(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateOrganization(ctx, &model.Organization{
		ID: "org-1", Name: "Acme", Industry: "logistics", Mission: "Move things fast",
	}))
	require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: "a1", OrganizationID: "org-1", Name: "CFO", IsActive: true, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateAgent(ctx, &model.Agent{ID: "a2", OrganizationID: "org-1", Name: "Retired", IsActive: false, CreatedAt: time.Now()}))

	b := NewBuilder(s)
	oc, err := b.BuildContext(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CFO"}, oc.ActiveAgents)

	prompt := b.BuildSystemPrompt(oc, "  You are the CFO.  ")
	assert.Contains(t, prompt, "You are advising Acme, an organization in the logistics industry.")
	assert.Contains(t, prompt, "Mission: Move things fast")
	assert.Contains(t, prompt, "may include: CFO.")
	assert.True(t, strings.HasSuffix(prompt, "\n\nYou are the CFO."))
}

func TestBuildContextUnknownOrganization(t *testing.T) {
	b := NewBuilder(store.NewMemoryStore())
	_, err := b.BuildContext(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildSystemPromptWithoutContext(t *testing.T) {
	b := NewBuilder(store.NewMemoryStore())
	assert.Equal(t, "Be brief.", b.BuildSystemPrompt(nil, "Be brief."))
}
