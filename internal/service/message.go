package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/metrics"
)

// MaxMessageLength is the largest accepted user message, in characters.
const MaxMessageLength = 32000

// MessageService posts and lists messages.
type MessageService struct {
	store         store.Store
	locker        *orchestrator.ConversationLocker
	broadcaster   orchestrator.Broadcaster
	conversations *ConversationService
	logger        *logger.Logger
}

// NewMessageService creates a message service. locker must be the one the
// orchestrator uses so user messages and agent rounds never interleave.
func NewMessageService(
	st store.Store,
	locker *orchestrator.ConversationLocker,
	broadcaster orchestrator.Broadcaster,
	conversations *ConversationService,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:         st,
		locker:        locker,
		broadcaster:   broadcaster,
		conversations: conversations,
		logger:        log,
	}
}

// PostUserMessage appends a user message, broadcasts it and notifies the
// other participants. Only active conversations accept messages.
func (s *MessageService) PostUserMessage(ctx context.Context, organizationID, userID, conversationID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, invalid("content exceeds maximum length")
	}

	unlock, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.store.GetConversation(ctx, organizationID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: status is %s", orchestrator.ErrConversationNotActive, conv.Status)
	}

	if !conv.HasParticipant(userID) {
		if err := s.conversations.AddParticipant(ctx, organizationID, conversationID, userID); err != nil {
			return nil, err
		}
	}

	senderName := strings.TrimSpace(req.SenderName)
	if senderName == "" {
		senderName = userID
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		OrganizationID: organizationID,
		SenderType:     model.SenderUser,
		SenderID:       userID,
		SenderName:     senderName,
		Content:        content,
		Status:         model.MessageSent,
		CreatedAt:      time.Now(),
	}

	updated, err := s.store.AppendMessages(ctx, organizationID, conversationID, []*model.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(organizationID, string(model.SenderUser), string(model.MessageSent)).Inc()

	log := s.logger.WithConversation(organizationID, conversationID)
	fanout := context.WithoutCancel(ctx)
	if err := s.broadcaster.BroadcastMessages(fanout, updated, []model.Message{*msg}); err != nil {
		metrics.BroadcastFailuresTotal.WithLabelValues("conversation").Inc()
		log.Warn("failed to broadcast user message", zap.Error(err))
	}
	orchestrator.NotifyParticipants(fanout, s.broadcaster, updated, userID, 1, log)

	return &model.SendMessageResponse{Message: msg, Sequence: msg.SequenceNumber}, nil
}

// List returns up to limit messages after afterSequence.
func (s *MessageService) List(ctx context.Context, organizationID, conversationID string, afterSequence int64, limit int) (*model.ListMessagesResponse, error) {
	if _, err := s.store.GetConversation(ctx, organizationID, conversationID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	msgs, err := s.store.ListMessages(ctx, conversationID, afterSequence, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	last := afterSequence
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].SequenceNumber
	}

	return &model.ListMessagesResponse{
		Messages:     msgs,
		HasMore:      hasMore,
		LastSequence: last,
	}, nil
}
