package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/metrics"
)

const (
	replayBatchSize   = 50
	heartbeatInterval = 30 * time.Second
)

// Subscriber delivers live conversation events.
type Subscriber interface {
	Subscribe(ctx context.Context, organizationID, conversationID string) (<-chan model.ConversationEvent, func(), error)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	messageService *service.MessageService
	subscriber     Subscriber
	logger         *logger.Logger
	heartbeat      time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	msgSvc *service.MessageService,
	subscriber Subscriber,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		messageService: msgSvc,
		subscriber:     subscriber,
		logger:         log,
		heartbeat:      heartbeatInterval,
	}
}

// ReplayCompleteEvent represents the completion of message replay.
type ReplayCompleteEvent struct {
	LastSequence int64 `json:"last_sequence"`
	MessageCount int   `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/{id}/stream
// Supports ?after_sequence=N (or Last-Event-ID) for resuming from a specific
// point. Stored messages are replayed first, then live events follow.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := middleware.GetOrganizationID(ctx)
	conversationID, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	afterSequence := resumePoint(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing committed in between is lost.
	// Live events at or below the replayed sequence are skipped.
	events, stop, err := h.subscriber.Subscribe(ctx, orgID, conversationID)
	if err != nil {
		h.logger.Error("failed to subscribe", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	defer stop()

	// The first page doubles as the existence check.
	page, err := h.messageService.List(ctx, orgID, conversationID, afterSequence, replayBatchSize)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to replay messages")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithConversation(orgID, conversationID)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	lastSequence := afterSequence
	var replayed int
	for {
		for i := range page.Messages {
			if ctx.Err() != nil {
				return
			}
			msg := &page.Messages[i]
			sendMessageEvent(w, flusher, msg)
			lastSequence = msg.SequenceNumber
			replayed++
		}
		if !page.HasMore {
			break
		}
		page, err = h.messageService.List(ctx, orgID, conversationID, lastSequence, replayBatchSize)
		if err != nil {
			log.Error("failed to replay messages", zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay messages",
			})
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		MessageCount: replayed,
	})

	log.Info("message replay complete",
		zap.Int("messages_replayed", replayed),
		zap.Int64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case event, open := <-events:
			if !open {
				return
			}
			if event.Message == nil {
				sendSSEEvent(w, flusher, string(event.Type), event)
				continue
			}
			if event.Message.SequenceNumber <= lastSequence {
				continue
			}
			sendMessageEvent(w, flusher, event.Message)
			lastSequence = event.Message.SequenceNumber

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// resumePoint reads after_sequence, falling back to the EventSource
// Last-Event-ID header sent on reconnect.
func resumePoint(r *http.Request) int64 {
	raw := r.URL.Query().Get("after_sequence")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// sendMessageEvent writes a message with its sequence number as the event ID
// so browsers resume from it automatically.
func sendMessageEvent(w http.ResponseWriter, flusher http.Flusher, msg *model.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "id: %d\n", msg.SequenceNumber)
	fmt.Fprintf(w, "event: %s\n", model.EventTypeNewMessage)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
