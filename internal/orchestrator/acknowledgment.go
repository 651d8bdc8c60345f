package orchestrator

import (
	"math/rand/v2"
	"sync"

	"github.com/orbitos/conversation-platform/internal/model"
)

var acknowledgmentPhrases = map[model.CommunicationStyle][]string{
	model.StyleFormal: {
		"I concur with the points raised.",
		"Noted. I have nothing further to add at this time.",
		"I support this direction.",
		"Understood. I agree with the assessment so far.",
	},
	model.StyleCasual: {
		"Sounds good to me!",
		"Yep, I'm on board with that.",
		"Makes sense, nothing to add from me.",
		"Totally agree, good stuff.",
	},
	model.StyleDirect: {
		"Agreed.",
		"No objections.",
		"Nothing to add.",
		"Fine by me. Proceed.",
	},
	model.StyleDiplomatic: {
		"Those are all valuable perspectives, and I'm comfortable with where this is heading.",
		"I appreciate the thoughtful input here and agree with the general direction.",
		"Good points all around. I'm supportive.",
		"I think we're aligned, and I'm happy to support this.",
	},
	model.StyleAnalytical: {
		"The reasoning checks out. No further analysis needed from my side.",
		"I've reviewed the points and the logic holds.",
		"The data supports this. I have nothing to add.",
		"Consistent with my assessment. No concerns.",
	},
}

// fallbackStyle supplies phrases for agents with an unrecognized style.
const fallbackStyle = model.StyleDiplomatic

// RandomSource picks an index in [0, n). *rand.Rand satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// Acknowledger produces canned, zero-cost acknowledgments.
type Acknowledger struct {
	mu  sync.Mutex
	rnd RandomSource
}

// NewAcknowledger creates an acknowledger drawing from rnd. A nil rnd uses
// a randomly seeded source.
func NewAcknowledger(rnd RandomSource) *Acknowledger {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Acknowledger{rnd: rnd}
}

// Acknowledge returns a short phrase matching the agent's style.
func (a *Acknowledger) Acknowledge(agent *model.Agent) string {
	phrases, ok := acknowledgmentPhrases[agent.CommunicationStyle]
	if !ok {
		phrases = acknowledgmentPhrases[fallbackStyle]
	}

	a.mu.Lock()
	i := a.rnd.IntN(len(phrases))
	a.mu.Unlock()

	return phrases[i]
}
