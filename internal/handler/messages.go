package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// Invoker runs agents against a conversation.
type Invoker interface {
	Invoke(ctx context.Context, req orchestrator.InvokeRequest) (*orchestrator.Result, error)
}

// MessageHandler handles message and invocation endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	invoker        Invoker
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	msgSvc *service.MessageService,
	invoker Invoker,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		invoker:        invoker,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
// Supports ?after_sequence=N&limit=M for pagination.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var afterSequence int64
	if s := r.URL.Query().Get("after_sequence"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil || seq < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	resp, err := h.messageService.List(ctx, middleware.GetOrganizationID(ctx), id, afterSequence, queryInt(r, "limit", 50))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.PostUserMessage(ctx, middleware.GetOrganizationID(ctx), middleware.GetUserID(ctx), id, &req)
	if err != nil {
		writeServiceError(w, requestLogger(h.logger, r), err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Invoke handles POST /api/v1/conversations/{id}/invoke
// An empty agent_ids list invites every active agent of the organization.
func (h *MessageHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(h.logger, r)
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var req model.InvokeAgentsRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	result, err := h.invoker.Invoke(ctx, orchestrator.InvokeRequest{
		OrganizationID: middleware.GetOrganizationID(ctx),
		ConversationID: id,
		AgentIDs:       req.AgentIDs,
	})
	if err != nil && (result == nil || len(result.Messages) == 0) {
		writeServiceError(w, log, err, "failed to invoke agents")
		return
	}

	messages := result.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	resp := &model.InvokeAgentsResponse{
		Messages:     messages,
		Rounds:       result.Rounds,
		NotAttempted: result.NotAttempted,
	}

	// committed rounds are returned with the failure that stopped the rest
	status := http.StatusOK
	if err != nil {
		log.Warn("invocation aborted after partial progress",
			zap.String("conversation_id", id),
			zap.Int("messages", len(messages)),
		)
		status, resp.Error = publicError(log, err, "failed to invoke agents")
	}
	writeJSON(w, status, resp)
}
