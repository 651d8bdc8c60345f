// Package orchestrator runs AI agents against a conversation: the emergent
// round loop, where agents self-select by relevance, and the standard mode,
// where each requested agent answers once in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orgcontext"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/metrics"
	"github.com/orbitos/conversation-platform/pkg/tracing"
)

// Precondition errors. Invoke returns them before doing any work.
var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationNotActive = errors.New("conversation is not active")
	ErrNoAgents              = errors.New("no active agents resolved")
	ErrEmptyTranscript       = errors.New("conversation has no messages to respond to")
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetConversation(ctx context.Context, organizationID, id string) (*model.Conversation, error)
	GetAgent(ctx context.Context, organizationID, id string) (*model.Agent, error)
	ListAgents(ctx context.Context, organizationID string, activeOnly bool) ([]model.Agent, error)
	ListMessages(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]model.Message, error)
	AppendMessages(ctx context.Context, organizationID, conversationID string, msgs []*model.Message) (*model.Conversation, error)
}

// RelevanceScorer rates how pertinent each agent is to the transcript. It
// returns one result per agent and degrades individual failures to
// ShouldRespond=false instead of failing the batch.
type RelevanceScorer interface {
	Evaluate(ctx context.Context, agents []model.Agent, transcript []llm.ChatMessage, settings model.EmergentModeSettings, previousRoundSummary string) []model.RelevanceResult
}

// Broadcaster fans persisted messages out to connected clients.
type Broadcaster interface {
	BroadcastMessages(ctx context.Context, conv *model.Conversation, msgs []model.Message) error
	NotifyUnread(ctx context.Context, event *model.UnreadEvent) error
}

// ContextBuilder loads organization context.
type ContextBuilder interface {
	BuildContext(ctx context.Context, organizationID string) (*orgcontext.OrganizationContext, error)
}

// Sleeper pauses between speakers. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// InvokeRequest asks agents to respond in a conversation.
type InvokeRequest struct {
	OrganizationID string
	ConversationID string
	// AgentIDs restricts and orders the participants. Empty means every
	// active agent of the organization.
	AgentIDs []string
}

// Result is what one invocation produced.
type Result struct {
	Conversation *model.Conversation
	Messages     []model.Message
	Rounds       int
	NotAttempted []string
}

// Orchestrator coordinates scoring, planning, generation and persistence.
type Orchestrator struct {
	store       Store
	scorer      RelevanceScorer
	generator   *ResponseGenerator
	contexts    ContextBuilder
	broadcaster Broadcaster
	locker      *ConversationLocker
	logger      *logger.Logger
	sleep       Sleeper
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pacing sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// New creates an orchestrator.
func New(
	st Store,
	scorer RelevanceScorer,
	generator *ResponseGenerator,
	contexts ContextBuilder,
	broadcaster Broadcaster,
	locker *ConversationLocker,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		scorer:      scorer,
		generator:   generator,
		contexts:    contexts,
		broadcaster: broadcaster,
		locker:      locker,
		logger:      log,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// invocation is the per-call state. Nothing in it outlives Invoke.
type invocation struct {
	conv       *model.Conversation
	agents     []model.Agent
	byID       map[string]*model.Agent
	transcript *Transcript
	orgCtx     *orgcontext.OrganizationContext
	responded  map[string]int
	log        *logger.Logger
	result     *Result
}

// Invoke runs the agents of a conversation once for its latest messages.
// Precondition failures return one of the Err* sentinels with no side
// effects. After that, provider failures become failed messages; only store
// errors abort the invocation, in which case the partial result is returned
// alongside the error.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (*Result, error) {
	ctx, span := tracing.Tracer("orchestrator").Start(ctx, "orchestrator.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", req.OrganizationID),
		attribute.String("conversation_id", req.ConversationID),
	)

	unlock, err := o.locker.Lock(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := o.prepare(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mode", string(inv.conv.Mode)),
		attribute.Int("agents", len(inv.agents)),
	)

	if inv.conv.Mode == model.ModeEmergent {
		err = o.runEmergent(ctx, inv)
	} else {
		err = o.runStandard(ctx, inv)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	inv.result.Conversation = inv.conv
	return inv.result, err
}

func (o *Orchestrator) prepare(ctx context.Context, req InvokeRequest) (*invocation, error) {
	conv, err := o.store.GetConversation(ctx, req.OrganizationID, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrConversationNotActive, conv.Status)
	}

	log := o.logger.WithConversation(conv.OrganizationID, conv.ID)

	agents, err := o.resolveAgents(ctx, conv.OrganizationID, req.AgentIDs, log)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	history, err := o.store.ListMessages(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	transcript := NewTranscript(history)
	if transcript.Len() == 0 {
		return nil, ErrEmptyTranscript
	}

	orgCtx, err := o.contexts.BuildContext(ctx, conv.OrganizationID)
	if err != nil {
		log.Warn("organization context unavailable, continuing without it", zap.Error(err))
	}

	settings, changed := conv.Settings.Normalize()
	if changed {
		log.Warn("emergent settings out of range, clamped for this invocation")
	}
	conv.Settings = settings

	byID := make(map[string]*model.Agent, len(agents))
	for i := range agents {
		byID[agents[i].ID] = &agents[i]
	}

	return &invocation{
		conv:       conv,
		agents:     agents,
		byID:       byID,
		transcript: transcript,
		orgCtx:     orgCtx,
		responded:  make(map[string]int),
		log:        log,
		result:     &Result{},
	}, nil
}

// resolveAgents returns active agents in request order, dropping unknown,
// inactive and duplicate IDs.
func (o *Orchestrator) resolveAgents(ctx context.Context, organizationID string, ids []string, log *logger.Logger) ([]model.Agent, error) {
	if len(ids) == 0 {
		agents, err := o.store.ListAgents(ctx, organizationID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list agents: %w", err)
		}
		return agents, nil
	}

	seen := make(map[string]bool, len(ids))
	agents := make([]model.Agent, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		agent, err := o.store.GetAgent(ctx, organizationID, id)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("requested agent not found", zap.String("agent_id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load agent %s: %w", id, err)
		}
		if !agent.IsActive {
			log.Warn("requested agent is inactive", zap.String("agent_id", id))
			continue
		}
		agents = append(agents, *agent)
	}
	return agents, nil
}

// runEmergent is the round loop. Rounds are numbered from zero and at most
// MaxRoundsPerMessage+1 of them run.
func (o *Orchestrator) runEmergent(ctx context.Context, inv *invocation) error {
	settings := inv.conv.Settings
	var previousSummary string

	defer func() {
		metrics.InvocationRounds.Observe(float64(inv.result.Rounds))
	}()

	for round := 0; round <= settings.MaxRoundsPerMessage; round++ {
		if ctx.Err() != nil {
			inv.log.Info("invocation cancelled before round", zap.Int("round", round))
			return nil
		}

		available := AvailableAgents(inv.agents, settings, inv.responded)
		if len(available) == 0 {
			inv.log.Info("no agents left to speak", zap.Int("round", round))
			return nil
		}

		results := o.scorer.Evaluate(ctx, available, inv.transcript.Turns(), settings, previousSummary)
		for _, r := range results {
			inv.log.Info("agent relevance",
				zap.Int("round", round),
				zap.String("agent_id", r.AgentID),
				zap.String("agent_name", r.AgentName),
				zap.Float64("score", r.Score),
				zap.Bool("should_respond", r.ShouldRespond),
				zap.String("response_type", string(r.SuggestedResponseType)),
				zap.String("stance", string(r.SuggestedStance)),
				zap.String("reasoning", r.Reasoning),
			)
		}

		plan := Plan(results, settings, round, inv.responded)
		if plan.Empty() {
			inv.log.Info("no agent cleared the relevance bar", zap.Int("round", round))
			return nil
		}
		inv.result.Rounds++

		roundCtx, span := tracing.Tracer("orchestrator").Start(ctx, "orchestrator.Round")
		span.SetAttributes(
			attribute.Int("round", round),
			attribute.Int("full_responders", len(plan.FullResponders)),
			attribute.Int("acknowledgers", len(plan.Acknowledgers)),
		)

		delay := time.Duration(settings.ResponseDelayMs) * time.Millisecond
		batch := o.speak(roundCtx, inv, round, plan.Speakers(), previousSummary, delay)
		err := o.commit(ctx, inv, batch)
		span.End()
		if err != nil {
			return err
		}

		previousSummary = summarizeRound(batch)

		if len(inv.result.NotAttempted) > 0 {
			return nil
		}
	}
	return nil
}

// runStandard lets every resolved agent respond once, in order, without
// scoring.
func (o *Orchestrator) runStandard(ctx context.Context, inv *invocation) error {
	speakers := make([]PlannedSpeaker, len(inv.agents))
	for i, a := range inv.agents {
		speakers[i] = PlannedSpeaker{AgentID: a.ID, Kind: SpeakerFull}
	}

	batch := o.speak(ctx, inv, 0, speakers, "", 0)
	if err := o.commit(ctx, inv, batch); err != nil {
		return err
	}
	inv.result.Rounds = 1
	return nil
}

// speak runs the speakers of one round in order. Cancellation stops before
// the next provider call; whoever did not get a turn is recorded in
// NotAttempted.
func (o *Orchestrator) speak(ctx context.Context, inv *invocation, round int, speakers []PlannedSpeaker, previousSummary string, delay time.Duration) []*model.Message {
	batch := make([]*model.Message, 0, len(speakers))

	for i, sp := range speakers {
		agent, ok := inv.byID[sp.AgentID]
		if !ok {
			inv.log.Warn("scorer returned an unknown agent", zap.String("agent_id", sp.AgentID))
			continue
		}

		if len(batch) > 0 && delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				inv.markNotAttempted(speakers[i:])
				break
			}
		}
		if ctx.Err() != nil {
			inv.markNotAttempted(speakers[i:])
			break
		}

		msg := o.newAgentMessage(inv, agent, round, sp)

		if sp.Kind == SpeakerAcknowledgment {
			var tokens int
			var cost float64
			msg.Content = o.generator.Acknowledge(agent)
			msg.IsAcknowledgment = true
			msg.TokensUsed = &tokens
			msg.Cost = &cost
			inv.transcript.AppendAgent(agent.Name, msg.Content)
			metrics.RecordAgentResponse(string(SpeakerAcknowledgment), string(model.MessageSent))
		} else {
			directives := BuildMeetingDirectives(DirectiveInput{
				Agent:                agent,
				Relevance:            sp.Relevance,
				PreviousRoundSummary: previousSummary,
				RequireUniqueInsight: inv.conv.Mode == model.ModeEmergent && inv.conv.Settings.RequireUniqueInsight,
				AlreadySpoke:         inv.responded[agent.ID] > 0,
			})

			resp, err := o.generator.Respond(ctx, agent, inv.transcript, inv.orgCtx, directives)
			if err != nil && ctx.Err() != nil {
				inv.markNotAttempted(speakers[i:])
				break
			}
			if err != nil {
				inv.log.Warn("agent response failed",
					zap.Int("round", round),
					zap.String("agent_id", agent.ID),
					zap.Error(err),
				)
				msg.Status = model.MessageFailed
				msg.Content = err.Error()
				metrics.RecordAgentResponse(string(SpeakerFull), string(model.MessageFailed))
			} else {
				msg.Content = resp.Content
				msg.Model = &resp.Model
				msg.TokensUsed = &resp.TokensUsed
				msg.Cost = &resp.Cost
				msg.LatencyMs = &resp.LatencyMs
				inv.transcript.AppendAgent(agent.Name, resp.Content)
				metrics.RecordAgentResponse(string(SpeakerFull), string(model.MessageSent))
			}
		}

		inv.responded[agent.ID]++
		batch = append(batch, msg)
	}

	return batch
}

func (o *Orchestrator) newAgentMessage(inv *invocation, agent *model.Agent, round int, sp PlannedSpeaker) *model.Message {
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: inv.conv.ID,
		OrganizationID: inv.conv.OrganizationID,
		SenderType:     model.SenderAI,
		SenderID:       agent.ID,
		SenderName:     agent.Name,
		Status:         model.MessageSent,
		CreatedAt:      time.Now(),
	}
	if inv.conv.Mode == model.ModeEmergent {
		r := round
		msg.Round = &r
		if sp.Relevance != nil && inv.conv.Settings.ShowRelevanceScores {
			score := sp.Relevance.Score
			msg.RelevanceScore = &score
		}
	}
	return msg
}

// commit persists a round and then broadcasts it. Persistence and fan-out
// use a context detached from cancellation so a cancelled caller never
// leaves a half-written round.
func (o *Orchestrator) commit(ctx context.Context, inv *invocation, batch []*model.Message) error {
	if len(batch) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	conv, err := o.store.AppendMessages(ctx, inv.conv.OrganizationID, inv.conv.ID, batch)
	if err != nil {
		return fmt.Errorf("failed to persist round: %w", err)
	}
	// Keep the normalized settings of this invocation.
	conv.Settings = inv.conv.Settings
	inv.conv = conv

	msgs := make([]model.Message, len(batch))
	for i, m := range batch {
		msgs[i] = *m
		metrics.MessagesTotal.WithLabelValues(conv.OrganizationID, string(m.SenderType), string(m.Status)).Inc()
	}
	inv.result.Messages = append(inv.result.Messages, msgs...)

	if err := o.broadcaster.BroadcastMessages(ctx, conv, msgs); err != nil {
		metrics.BroadcastFailuresTotal.WithLabelValues("conversation").Inc()
		inv.log.Warn("failed to broadcast round", zap.Error(err))
	}
	notifyParticipants(ctx, o.broadcaster, conv, "", len(msgs), inv.log)

	return nil
}

func (inv *invocation) markNotAttempted(rest []PlannedSpeaker) {
	for _, sp := range rest {
		inv.result.NotAttempted = append(inv.result.NotAttempted, sp.AgentID)
	}
}

// summarizeRound renders the successful turns of a round as
// "AgentName: content" lines.
func summarizeRound(batch []*model.Message) string {
	var lines []string
	for _, m := range batch {
		if m.Status != model.MessageSent {
			continue
		}
		lines = append(lines, m.SenderName+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// notifyParticipants sends unread notifications to every participant other
// than the author.
func notifyParticipants(ctx context.Context, b Broadcaster, conv *model.Conversation, authorID string, count int, log *logger.Logger) {
	for _, userID := range conv.Participants {
		if userID == authorID {
			continue
		}
		err := b.NotifyUnread(ctx, &model.UnreadEvent{
			UserID:         userID,
			ConversationID: conv.ID,
			NewMessages:    count,
			LastSequence:   conv.LastSequence,
			CreatedAt:      time.Now(),
		})
		if err != nil {
			metrics.BroadcastFailuresTotal.WithLabelValues("unread").Inc()
			log.Warn("failed to notify participant", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// NotifyParticipants is notifyParticipants for callers outside the package
// that append messages themselves.
func NotifyParticipants(ctx context.Context, b Broadcaster, conv *model.Conversation, authorID string, count int, log *logger.Logger) {
	notifyParticipants(ctx, b, conv, authorID, count, log)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
