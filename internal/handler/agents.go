package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// AgentHandler handles agent endpoints.
type AgentHandler struct {
	service *service.AgentService
	logger  *logger.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(svc *service.AgentService, log *logger.Logger) *AgentHandler {
	return &AgentHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/agents
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.AgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.service.Create(ctx, middleware.GetOrganizationID(ctx), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create agent")
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

// List handles GET /api/v1/agents. ?active=true hides deactivated agents.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	agents, err := h.service.List(ctx, middleware.GetOrganizationID(ctx), activeOnly)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
	})
}

// Get handles GET /api/v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "agent")
	if !ok {
		return
	}

	agent, err := h.service.Get(ctx, middleware.GetOrganizationID(ctx), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get agent")
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// Update handles PUT /api/v1/agents/{id}
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "agent")
	if !ok {
		return
	}

	var req model.AgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.service.Update(ctx, middleware.GetOrganizationID(ctx), id, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update agent")
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// Delete handles DELETE /api/v1/agents/{id}. Agents are deactivated, not
// removed, so past messages keep their sender.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "agent")
	if !ok {
		return
	}

	if err := h.service.Deactivate(ctx, middleware.GetOrganizationID(ctx), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to deactivate agent")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID reads and validates the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(kind, id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
