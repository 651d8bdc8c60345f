// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := middleware.GetOrganizationID(ctx)
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Create(ctx, orgID, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx, middleware.GetOrganizationID(ctx), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetOrganizationID(ctx), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Title != "" {
		if err := middleware.ValidateTitle(req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Update(ctx, middleware.GetOrganizationID(ctx), id, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// UpdateSettings handles PUT /api/v1/conversations/{id}/settings
func (h *ConversationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	// fields missing from the body keep their current values
	var body json.RawMessage
	if !decodeJSON(w, r, &body) {
		return
	}

	conv, err := h.service.PatchSettings(ctx, middleware.GetOrganizationID(ctx), id, func(s *model.EmergentModeSettings) error {
		return json.Unmarshal(body, s)
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Pause handles POST /api/v1/conversations/{id}/pause
func (h *ConversationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Pause)
}

// Resume handles POST /api/v1/conversations/{id}/resume
func (h *ConversationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Resume)
}

// Delete handles DELETE /api/v1/conversations/{id}. Conversations are
// archived; their messages stay readable.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	if _, err := h.service.Archive(ctx, middleware.GetOrganizationID(ctx), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to archive conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statusChange func(ctx context.Context, organizationID, conversationID string) (*model.Conversation, error)

func (h *ConversationHandler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange) {
	ctx := r.Context()
	id, ok := pathID(w, r, "conversation")
	if !ok {
		return
	}

	conv, err := change(ctx, middleware.GetOrganizationID(ctx), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to change conversation status")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
