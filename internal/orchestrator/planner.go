package orchestrator

import (
	"sort"

	"github.com/orbitos/conversation-platform/internal/model"
)

// maxAcknowledgers caps brief acknowledgments in the opening round.
const maxAcknowledgers = 2

// SpeakerKind distinguishes full responses from canned acknowledgments.
type SpeakerKind string

const (
	SpeakerFull           SpeakerKind = "full"
	SpeakerAcknowledgment SpeakerKind = "acknowledgment"
)

// PlannedSpeaker is one slot in a round's speaking order. Relevance is nil
// in standard mode.
type PlannedSpeaker struct {
	AgentID   string
	Kind      SpeakerKind
	Relevance *model.RelevanceResult
}

// RoundPlan is the outcome of planning one round.
type RoundPlan struct {
	FullResponders []model.RelevanceResult
	Acknowledgers  []model.RelevanceResult
}

// Empty reports whether nobody speaks this round.
func (p RoundPlan) Empty() bool {
	return len(p.FullResponders) == 0 && len(p.Acknowledgers) == 0
}

// Speakers returns full responders followed by acknowledgers.
func (p RoundPlan) Speakers() []PlannedSpeaker {
	out := make([]PlannedSpeaker, 0, len(p.FullResponders)+len(p.Acknowledgers))
	for i := range p.FullResponders {
		r := &p.FullResponders[i]
		out = append(out, PlannedSpeaker{AgentID: r.AgentID, Kind: SpeakerFull, Relevance: r})
	}
	for i := range p.Acknowledgers {
		r := &p.Acknowledgers[i]
		out = append(out, PlannedSpeaker{AgentID: r.AgentID, Kind: SpeakerAcknowledgment, Relevance: r})
	}
	return out
}

// AvailableAgents returns the agents eligible to be scored this round:
// everyone when AllowMultipleResponses is set, otherwise those that have not
// spoken yet in this invocation.
func AvailableAgents(agents []model.Agent, settings model.EmergentModeSettings, responded map[string]int) []model.Agent {
	if settings.AllowMultipleResponses {
		return append([]model.Agent(nil), agents...)
	}
	out := make([]model.Agent, 0, len(agents))
	for _, a := range agents {
		if responded[a.ID] == 0 {
			out = append(out, a)
		}
	}
	return out
}

// Plan partitions relevance results into full responders and acknowledgers.
func Plan(results []model.RelevanceResult, settings model.EmergentModeSettings, round int, responded map[string]int) RoundPlan {
	pool := make([]model.RelevanceResult, 0, len(results))
	for _, r := range results {
		if !settings.AllowMultipleResponses && responded[r.AgentID] > 0 {
			continue
		}
		pool = append(pool, r)
	}

	var plan RoundPlan

	for _, r := range pool {
		if r.ShouldRespond {
			plan.FullResponders = append(plan.FullResponders, r)
		}
	}
	sort.SliceStable(plan.FullResponders, func(i, j int) bool {
		return plan.FullResponders[i].Score > plan.FullResponders[j].Score
	})
	if len(plan.FullResponders) > settings.MaxResponsesPerRound {
		plan.FullResponders = plan.FullResponders[:settings.MaxResponsesPerRound]
	}

	if round == 0 && settings.ShowBriefAcknowledgments {
		for _, r := range pool {
			if r.ShouldRespond || r.Score < settings.AcknowledgmentThreshold {
				continue
			}
			plan.Acknowledgers = append(plan.Acknowledgers, r)
			if len(plan.Acknowledgers) == maxAcknowledgers {
				break
			}
		}
	}

	return plan
}
