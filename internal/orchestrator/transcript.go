package orchestrator

import (
	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
)

// Transcript is the running role-tagged context of one invocation. It is
// never shared between invocations.
type Transcript struct {
	turns    []llm.ChatMessage
	speakers []string // agent name per turn, empty for human turns
}

// NewTranscript rebuilds a transcript from persisted messages. Failed
// messages contribute no context.
func NewTranscript(history []model.Message) *Transcript {
	t := &Transcript{
		turns:    make([]llm.ChatMessage, 0, len(history)),
		speakers: make([]string, 0, len(history)),
	}
	for _, m := range history {
		if m.Status == model.MessageFailed {
			continue
		}
		if m.SenderType == model.SenderAI {
			t.AppendAgent(m.SenderName, m.Content)
			continue
		}
		t.AppendUser(m.SenderName, m.Content)
	}
	return t
}

// AppendUser adds a human turn.
func (t *Transcript) AppendUser(name, content string) {
	if name != "" {
		content = name + ": " + content
	}
	t.turns = append(t.turns, llm.ChatMessage{Role: llm.RoleUser, Content: content})
	t.speakers = append(t.speakers, "")
}

// AppendAgent adds an agent turn, labelled with the agent's name so later
// speakers can tell the agents apart.
func (t *Transcript) AppendAgent(name, content string) {
	t.turns = append(t.turns, llm.ChatMessage{Role: llm.RoleAssistant, Content: name + ": " + content})
	t.speakers = append(t.speakers, name)
}

// For renders the transcript from one agent's point of view: only that
// agent's own turns are assistant turns, everyone else's are user turns.
func (t *Transcript) For(agentName string) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(t.turns))
	for i, turn := range t.turns {
		if t.speakers[i] != agentName {
			turn.Role = llm.RoleUser
		}
		out[i] = turn
	}
	return out
}

// Turns returns a copy of the turns.
func (t *Transcript) Turns() []llm.ChatMessage {
	return append([]llm.ChatMessage(nil), t.turns...)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}
