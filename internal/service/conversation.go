// Package service provides business logic for the conversation platform.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/metrics"
)

const maxTitleLength = 256

// ConversationService handles conversation operations.
type ConversationService struct {
	store    store.Store
	defaults model.EmergentModeSettings
	// locks serializes read-modify-write of conversation metadata. It is
	// separate from the message locker so a long invocation does not block
	// pausing or renaming.
	locks  *orchestrator.ConversationLocker
	logger *logger.Logger
}

// NewConversationService creates a conversation service. defaults seeds the
// settings of new conversations.
func NewConversationService(st store.Store, defaults model.EmergentModeSettings, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:    st,
		defaults: defaults,
		locks:    orchestrator.NewConversationLocker(),
		logger:   log,
	}
}

// Create creates a new conversation owned by userID.
func (s *ConversationService) Create(ctx context.Context, organizationID, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if len(title) > maxTitleLength {
		return nil, invalid("title exceeds maximum length")
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeOnDemand
	}
	if !mode.Valid() {
		return nil, invalid("unknown mode %q", mode)
	}

	settings := s.defaults
	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		settings = *req.Settings
	}

	if _, err := s.store.GetOrganization(ctx, organizationID); err != nil {
		return nil, err
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrganizationID: organizationID,
		CreatedBy:      userID,
		Title:          title,
		Mode:           mode,
		Status:         model.StatusActive,
		Settings:       settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if userID != "" {
		conv.Participants = []string{userID}
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	metrics.ConversationsTotal.WithLabelValues(organizationID, string(mode)).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("organization_id", organizationID),
		zap.String("mode", string(mode)),
	)

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, organizationID, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, organizationID, conversationID)
}

// List retrieves conversations for an organization.
func (s *ConversationService) List(ctx context.Context, organizationID string, limit, offset int) (*model.ListConversationsResponse, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.store.ListConversations(ctx, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// Update changes the title or mode of a conversation.
func (s *ConversationService) Update(ctx context.Context, organizationID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if len(title) > maxTitleLength {
		return nil, invalid("title exceeds maximum length")
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return nil, invalid("unknown mode %q", req.Mode)
	}

	return s.mutate(ctx, organizationID, conversationID, func(conv *model.Conversation) error {
		if title != "" {
			conv.Title = title
		}
		if req.Mode != "" {
			conv.Mode = req.Mode
		}
		return nil
	})
}

// UpdateSettings replaces the emergent settings. Invalid settings, including
// an acknowledgment threshold above the relevance threshold, are rejected.
func (s *ConversationService) UpdateSettings(ctx context.Context, organizationID, conversationID string, settings model.EmergentModeSettings) (*model.Conversation, error) {
	return s.PatchSettings(ctx, organizationID, conversationID, func(current *model.EmergentModeSettings) error {
		*current = settings
		return nil
	})
}

// PatchSettings lets patch edit a copy of the current settings under the
// conversation lock. The result is stored only if it validates.
func (s *ConversationService) PatchSettings(ctx context.Context, organizationID, conversationID string, patch func(*model.EmergentModeSettings) error) (*model.Conversation, error) {
	return s.mutate(ctx, organizationID, conversationID, func(conv *model.Conversation) error {
		settings := conv.Settings
		if err := patch(&settings); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		conv.Settings = settings
		return nil
	})
}

// Pause stops agents from being invoked until the conversation is resumed.
func (s *ConversationService) Pause(ctx context.Context, organizationID, conversationID string) (*model.Conversation, error) {
	return s.transition(ctx, organizationID, conversationID, model.StatusActive, model.StatusPaused)
}

// Resume reactivates a paused conversation.
func (s *ConversationService) Resume(ctx context.Context, organizationID, conversationID string) (*model.Conversation, error) {
	return s.transition(ctx, organizationID, conversationID, model.StatusPaused, model.StatusActive)
}

// Archive closes a conversation for good. Messages are kept and stay
// readable.
func (s *ConversationService) Archive(ctx context.Context, organizationID, conversationID string) (*model.Conversation, error) {
	return s.mutate(ctx, organizationID, conversationID, func(conv *model.Conversation) error {
		if conv.Status == model.StatusArchived {
			return fmt.Errorf("%w: conversation is already archived", ErrInvalidTransition)
		}
		conv.Status = model.StatusArchived
		return nil
	})
}

// AddParticipant records userID as a participant if it is not one yet.
func (s *ConversationService) AddParticipant(ctx context.Context, organizationID, conversationID, userID string) error {
	if userID == "" {
		return nil
	}
	_, err := s.mutate(ctx, organizationID, conversationID, func(conv *model.Conversation) error {
		if conv.HasParticipant(userID) {
			return errUnchanged
		}
		conv.Participants = append(conv.Participants, userID)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

var errUnchanged = errors.New("unchanged")

func (s *ConversationService) transition(ctx context.Context, organizationID, conversationID string, from, to model.ConversationStatus) (*model.Conversation, error) {
	conv, err := s.mutate(ctx, organizationID, conversationID, func(conv *model.Conversation) error {
		if conv.Status != from {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, conv.Status, to)
		}
		conv.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation status changed",
		zap.String("conversation_id", conversationID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return conv, nil
}

// mutate loads a conversation under the metadata lock, applies fn and writes
// it back.
func (s *ConversationService) mutate(ctx context.Context, organizationID, conversationID string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.store.GetConversation(ctx, organizationID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := fn(conv); err != nil {
		return nil, err
	}
	conv.UpdatedAt = time.Now()

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conv, nil
}
