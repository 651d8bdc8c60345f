package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// OrganizationService manages tenants.
type OrganizationService struct {
	store  store.Store
	logger *logger.Logger
}

// NewOrganizationService creates an organization service.
func NewOrganizationService(st store.Store, log *logger.Logger) *OrganizationService {
	return &OrganizationService{store: st, logger: log}
}

// Create creates an organization.
func (s *OrganizationService) Create(ctx context.Context, req *model.OrganizationRequest) (*model.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}

	now := time.Now()
	org := &model.Organization{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        name,
		Industry:    strings.TrimSpace(req.Industry),
		Description: strings.TrimSpace(req.Description),
		Mission:     strings.TrimSpace(req.Mission),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	s.logger.Info("organization created", zap.String("organization_id", org.ID))
	return org, nil
}

// Get returns an organization.
func (s *OrganizationService) Get(ctx context.Context, id string) (*model.Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// List pages through organizations.
func (s *OrganizationService) List(ctx context.Context, limit, offset int) ([]model.Organization, int, error) {
	return s.store.ListOrganizations(ctx, clampLimit(limit), offset)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}
