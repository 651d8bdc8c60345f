package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/model"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"

	// UserSubjectPrefix is the prefix for per-user notification subjects.
	UserSubjectPrefix = "user"

	subscriptionBuffer = 64
)

// StreamManager handles JetStream stream setup and event publishing.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the conversations stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation events fanned out to connected clients",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a conversation event.
func EventSubject(organizationID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, organizationID, conversationID, eventType)
}

// ConversationFilter returns the filter subject for all events in a conversation.
func ConversationFilter(organizationID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, organizationID, conversationID)
}

// UnreadSubject returns the per-user unread notification subject.
func UnreadSubject(userID string) string {
	return fmt.Sprintf("%s.%s.unread", UserSubjectPrefix, userID)
}

// BroadcastMessages publishes one new_message event per message, in order.
// Publishing goes through JetStream so late subscribers can replay.
func (m *StreamManager) BroadcastMessages(ctx context.Context, conv *model.Conversation, msgs []model.Message) error {
	subject := EventSubject(conv.OrganizationID, conv.ID, model.EventTypeNewMessage)
	for i := range msgs {
		event := &model.ConversationEvent{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ConversationID: conv.ID,
			OrganizationID: conv.OrganizationID,
			Type:           model.EventTypeNewMessage,
			Message:        &msgs[i],
			CreatedAt:      time.Now(),
		}
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := m.client.JetStream().Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return nil
}

// NotifyUnread publishes an unread notification on core NATS. Notifications
// are ephemeral and not stored in the stream.
func (m *StreamManager) NotifyUnread(ctx context.Context, event *model.UnreadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal unread event: %w", err)
	}
	if err := m.client.Conn().Publish(UnreadSubject(event.UserID), data); err != nil {
		return fmt.Errorf("failed to publish unread event: %w", err)
	}
	return nil
}

// Subscribe delivers live events for a conversation until ctx is done or the
// returned stop function is called. Events that arrive while the buffer is
// full are dropped; clients recover them through replay.
func (m *StreamManager) Subscribe(ctx context.Context, organizationID, conversationID string) (<-chan model.ConversationEvent, func(), error) {
	events := make(chan model.ConversationEvent, subscriptionBuffer)

	sub, err := m.client.Conn().Subscribe(ConversationFilter(organizationID, conversationID), func(msg *nats.Msg) {
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			m.client.logger.Warn("dropping undecodable conversation event",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		select {
		case events <- event:
		default:
			m.client.logger.Warn("subscriber buffer full, dropping event",
				zap.String("conversation_id", conversationID),
			)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			_ = sub.Unsubscribe()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()

	return events, stop, nil
}
