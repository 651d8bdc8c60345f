package model

// ResponseType is the suggested shape of an agent's reply.
type ResponseType string

const (
	ResponseFull           ResponseType = "full"
	ResponseBrief          ResponseType = "brief"
	ResponseQuestion       ResponseType = "question"
	ResponseAcknowledgment ResponseType = "acknowledgment"
)

// Stance is the suggested position relative to the previous round.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
	StanceBuildOn  Stance = "build_on"
	StanceQuestion Stance = "question"
)

// RelevanceResult is the scorer's verdict for one agent. Not persisted.
type RelevanceResult struct {
	AgentID               string       `json:"agent_id"`
	AgentName             string       `json:"agent_name"`
	Score                 float64      `json:"score"`
	Reasoning             string       `json:"reasoning"`
	ShouldRespond         bool         `json:"should_respond"`
	SuggestedResponseType ResponseType `json:"suggested_response_type"`
	SuggestedStance       Stance       `json:"suggested_stance"`
	BuildOnAgentName      string       `json:"build_on_agent_name,omitempty"`
}
