package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// OrganizationHandler handles organization endpoints.
type OrganizationHandler struct {
	service *service.OrganizationService
	logger  *logger.Logger
}

// NewOrganizationHandler creates a new organization handler.
func NewOrganizationHandler(svc *service.OrganizationService, log *logger.Logger) *OrganizationHandler {
	return &OrganizationHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.OrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.service.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create organization")
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

// List handles GET /api/v1/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	orgs, total, err := h.service.List(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list organizations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organizations": orgs,
		"total":         total,
	})
}

// Get handles GET /api/v1/organizations/{id}. Callers without the admin
// scope only see their own organization.
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id != middleware.GetOrganizationID(ctx) && !middleware.HasScope(ctx, middleware.ScopeAdmin) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	org, err := h.service.Get(ctx, id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get organization")
		return
	}

	writeJSON(w, http.StatusOK, org)
}
