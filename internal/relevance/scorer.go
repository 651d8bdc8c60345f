// Package relevance rates how pertinent each agent is to a conversation using
// a small, cheap model call per agent.
package relevance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/metrics"
)

const (
	// transcriptWindow bounds how many recent turns the scorer sees.
	transcriptWindow = 12
	scoringMaxTokens = 300
	defaultParallel  = 4
)

var tendencyGuidance = map[model.ReactionTendency]string{
	model.TendencyProactive: "This agent likes to contribute early and often. Give a modest boost when the topic is even loosely related to their expertise.",
	model.TendencyBalanced:  "This agent contributes when they have something useful to add. Score on relevance alone.",
	model.TendencyReserved:  "This agent only speaks when the topic squarely concerns them. Lower the score unless their expertise is clearly needed.",
}

var errNoJSON = errors.New("scoring response contained no JSON object")

// Scorer implements relevance scoring against an LLM client.
type Scorer struct {
	client   llm.Client
	model    string
	timeout  time.Duration
	parallel int
	logger   *logger.Logger
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithTimeout bounds each scoring call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) { s.timeout = d }
}

// WithParallelism sets how many agents are scored at once.
func WithParallelism(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// NewScorer creates a scorer. An empty model uses the client's default.
func NewScorer(client llm.Client, modelName string, log *logger.Logger, opts ...Option) *Scorer {
	s := &Scorer{
		client:   client,
		model:    modelName,
		timeout:  30 * time.Second,
		parallel: defaultParallel,
		logger:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == "" && client != nil {
		s.model = client.DefaultModel()
	}
	return s
}

// scoreReply is the JSON the scoring model is asked to return.
type scoreReply struct {
	Score        float64 `json:"score"`
	Reasoning    string  `json:"reasoning"`
	ResponseType string  `json:"response_type"`
	Stance       string  `json:"stance"`
	BuildOnAgent string  `json:"build_on_agent"`
}

// Evaluate scores every agent. Results keep the order of agents. A failed
// call yields score 0 and ShouldRespond=false for that agent only.
func (s *Scorer) Evaluate(ctx context.Context, agents []model.Agent, transcript []llm.ChatMessage, settings model.EmergentModeSettings, previousRoundSummary string) []model.RelevanceResult {
	results := make([]model.RelevanceResult, len(agents))

	g := new(errgroup.Group)
	g.SetLimit(s.parallel)
	for i := range agents {
		g.Go(func() error {
			results[i] = s.evaluateOne(ctx, &agents[i], agents, transcript, settings, previousRoundSummary)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Scorer) evaluateOne(ctx context.Context, agent *model.Agent, all []model.Agent, transcript []llm.ChatMessage, settings model.EmergentModeSettings, previous string) model.RelevanceResult {
	result := model.RelevanceResult{AgentID: agent.ID, AgentName: agent.Name}

	reply, err := s.score(ctx, agent, all, transcript, previous)
	if err != nil {
		metrics.RelevanceFailuresTotal.Inc()
		s.logger.Warn("relevance scoring failed",
			zap.String("agent_id", agent.ID),
			zap.Error(err),
		)
		result.Reasoning = "scoring failed: " + err.Error()
		result.SuggestedResponseType = model.ResponseFull
		metrics.RelevanceScores.Observe(0)
		return result
	}

	result.Score = clampScore(reply.Score)
	result.Reasoning = strings.TrimSpace(reply.Reasoning)
	result.ShouldRespond = result.Score >= settings.RelevanceThreshold
	result.SuggestedResponseType = parseResponseType(reply.ResponseType)
	result.SuggestedStance = parseStance(reply.Stance)
	if result.SuggestedStance == model.StanceBuildOn {
		result.BuildOnAgentName = strings.TrimSpace(reply.BuildOnAgent)
	}
	metrics.RelevanceScores.Observe(result.Score)
	return result
}

func (s *Scorer) score(ctx context.Context, agent *model.Agent, all []model.Agent, transcript []llm.ChatMessage, previous string) (*scoreReply, error) {
	if s.client == nil {
		return nil, llm.ErrProviderUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:       s.model,
		System:      scoringSystemPrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: buildScoringPrompt(agent, all, transcript, previous)}},
		MaxTokens:   scoringMaxTokens,
		Temperature: 0,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordLLMCall(s.client.Name(), s.model, "error", elapsed, 0, 0, 0)
		return nil, err
	}
	cost := llm.EstimateCost(resp.Model, resp.TokensIn, resp.TokensOut)
	metrics.RecordLLMCall(s.client.Name(), s.model, "success", elapsed, resp.TokensIn, resp.TokensOut, cost)

	return parseReply(resp.Content)
}

const scoringSystemPrompt = `You decide whether a participant in a business meeting should speak next.
Reply with a single JSON object and nothing else:
{"score": <0-100>, "reasoning": "<one sentence>", "response_type": "full|brief|question|acknowledgment", "stance": "agree|disagree|build_on|question", "build_on_agent": "<name or empty>"}`

func buildScoringPrompt(agent *model.Agent, all []model.Agent, transcript []llm.ChatMessage, previous string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Participant: %s\n", agent.Name)
	if agent.SystemPrompt != "" {
		fmt.Fprintf(&sb, "Role and expertise: %s\n", strings.TrimSpace(agent.SystemPrompt))
	}
	if agent.SeniorityLevel > 0 {
		fmt.Fprintf(&sb, "Seniority: %d of 5\n", agent.SeniorityLevel)
	}
	if guidance, ok := tendencyGuidance[agent.ReactionTendency]; ok {
		sb.WriteString(guidance)
		sb.WriteString("\n")
	}

	var others []string
	for _, a := range all {
		if a.ID != agent.ID {
			others = append(others, a.Name)
		}
	}
	if len(others) > 0 {
		fmt.Fprintf(&sb, "Other participants: %s\n", strings.Join(others, ", "))
	}

	sb.WriteString("\nRecent conversation:\n")
	start := 0
	if len(transcript) > transcriptWindow {
		start = len(transcript) - transcriptWindow
	}
	for _, turn := range transcript[start:] {
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}

	if strings.TrimSpace(previous) != "" {
		sb.WriteString("\nWhat was just said in the previous round:\n")
		sb.WriteString(previous)
		sb.WriteString("\n")
	}

	sb.WriteString("\nHow relevant is it for this participant to respond now? Score 0 when they have nothing to add.")
	return sb.String()
}

// parseReply extracts the JSON object from model output, repairing it when
// the model produced sloppy JSON.
func parseReply(raw string) (*scoreReply, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, errNoJSON
	}

	var reply scoreReply
	if err := json.Unmarshal([]byte(body), &reply); err == nil {
		return &reply, nil
	}

	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return nil, fmt.Errorf("failed to repair scoring JSON: %w", err)
	}
	reply = scoreReply{}
	if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
		return nil, fmt.Errorf("failed to decode scoring JSON: %w", err)
	}
	return &reply, nil
}

// extractObject strips code fences and surrounding prose, returning the
// text from the first '{' to the last '}'. An unterminated object is
// returned from its '{' so the repair step can close it.
func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return strings.TrimSpace(s[start:])
	}
	return s[start : end+1]
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func parseResponseType(s string) model.ResponseType {
	switch rt := model.ResponseType(strings.ToLower(strings.TrimSpace(s))); rt {
	case model.ResponseBrief, model.ResponseQuestion, model.ResponseAcknowledgment:
		return rt
	}
	return model.ResponseFull
}

func parseStance(s string) model.Stance {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if normalized == "buildon" {
		normalized = string(model.StanceBuildOn)
	}
	switch st := model.Stance(normalized); st {
	case model.StanceAgree, model.StanceDisagree, model.StanceBuildOn, model.StanceQuestion:
		return st
	}
	return ""
}
