package orchestrator

import (
	"fmt"
	"strings"

	"github.com/orbitos/conversation-platform/internal/model"
)

const defaultBuildOnTarget = "the previous speaker"

var toneDirectives = map[model.CommunicationStyle]string{
	model.StyleFormal:     "Use a formal, professional tone.",
	model.StyleCasual:     "Keep your tone relaxed and conversational.",
	model.StyleDirect:     "Be direct: state your point first and skip pleasantries.",
	model.StyleDiplomatic: "Be diplomatic: acknowledge other viewpoints before offering your own.",
	model.StyleAnalytical: "Be analytical: ground your points in data, reasoning, and trade-offs.",
}

var lengthDirectives = map[model.ResponseType]string{
	model.ResponseFull:           "Give a focused response of no more than three short paragraphs.",
	model.ResponseBrief:          "Keep your response brief: two or three sentences at most.",
	model.ResponseQuestion:       "Respond mainly with a clarifying question that moves the discussion forward.",
	model.ResponseAcknowledgment: "Respond with a one-sentence acknowledgment.",
}

// %s in the build-on directive is the name of the agent being built on.
var stanceDirectives = map[model.Stance]string{
	model.StanceAgree:    "You broadly agree with what was said in the last round; reinforce it with a point that has not been made yet.",
	model.StanceDisagree: "You see problems with what was said in the last round; respectfully explain where you disagree and why.",
	model.StanceBuildOn:  "Build on the point made by %s; extend it rather than repeating it.",
	model.StanceQuestion: "Challenge the last round with a pointed question about an assumption that was made.",
}

const (
	uniqueInsightDirective  = "Only contribute an insight that has not already been raised in this meeting. Do not restate earlier points."
	repeatSpeakerDirective  = "You have already spoken in this discussion. Add only what is new since your last contribution and do not repeat yourself."
	seniorAdvisorDirective  = "Speak with the authority of a senior advisor: give clear recommendations and call out strategic risks."
	juniorAdvisorDirective  = "Speak as a junior team member: offer your view with appropriate humility and ask for guidance where useful."
	meetingDirectivesHeader = "Meeting guidance:"
)

// DirectiveInput is everything the directive step looks at.
type DirectiveInput struct {
	Agent                *model.Agent
	Relevance            *model.RelevanceResult
	PreviousRoundSummary string
	RequireUniqueInsight bool
	AlreadySpoke         bool
}

// BuildMeetingDirectives renders the behaviour clauses for a full response
// in a fixed order: tone, length, stance, unique insight, repeat speaker,
// seniority. It returns "" when no clause applies.
func BuildMeetingDirectives(in DirectiveInput) string {
	var clauses []string

	if tone, ok := toneDirectives[in.Agent.CommunicationStyle]; ok {
		clauses = append(clauses, tone)
	}

	responseType := model.ResponseFull
	if in.Relevance != nil {
		if _, ok := lengthDirectives[in.Relevance.SuggestedResponseType]; ok {
			responseType = in.Relevance.SuggestedResponseType
		}
	}
	clauses = append(clauses, lengthDirectives[responseType])

	hasPreviousRound := strings.TrimSpace(in.PreviousRoundSummary) != ""

	if hasPreviousRound && in.Relevance != nil {
		if stance, ok := stanceDirectives[in.Relevance.SuggestedStance]; ok {
			if in.Relevance.SuggestedStance == model.StanceBuildOn {
				target := in.Relevance.BuildOnAgentName
				if target == "" {
					target = defaultBuildOnTarget
				}
				stance = fmt.Sprintf(stance, target)
			}
			clauses = append(clauses, stance)
		}
	}

	if in.RequireUniqueInsight && hasPreviousRound {
		clauses = append(clauses, uniqueInsightDirective)
	}

	if in.AlreadySpoke {
		clauses = append(clauses, repeatSpeakerDirective)
	}

	switch {
	case in.Agent.SeniorityLevel >= 4:
		clauses = append(clauses, seniorAdvisorDirective)
	case in.Agent.SeniorityLevel > 0 && in.Agent.SeniorityLevel <= 2:
		clauses = append(clauses, juniorAdvisorDirective)
	}

	if len(clauses) == 0 {
		return ""
	}
	return meetingDirectivesHeader + "\n- " + strings.Join(clauses, "\n- ")
}

// ComposeSystemPrompt appends directives to the base prompt.
func ComposeSystemPrompt(base, directives string) string {
	if directives == "" {
		return base
	}
	if base == "" {
		return directives
	}
	return base + "\n\n" + directives
}
