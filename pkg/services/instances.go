package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
)

// Instance answers read-only questions about workflow instances.
type Instance struct {
	persistence persistence.Persistence
}

// NewInstance creates a new instance query service.
func NewInstance(p persistence.Persistence) *Instance {
	return &Instance{persistence: p}
}

// HealthCheck checks the health of the persistence layer.
func (i *Instance) HealthCheck(ctx context.Context) (string, bool) {
	if i.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := i.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListInstancesRequest contains options for listing instances.
type ListInstancesRequest struct {
	Limit  int
	Offset int

	Status       string
	ResourceType string
	ResourceID   string
	TemplateID   string
	Approver     string

	SortBy    string
	SortOrder string
}

// ListInstancesResponse contains a page of instances.
type ListInstancesResponse struct {
	Instances   []*models.WorkflowInstance `json:"workflows"`
	TotalCount  int64                      `json:"total_count"`
	HasNextPage bool                       `json:"has_next_page"`
	Limit       int                        `json:"limit"`
	Offset      int                        `json:"offset"`
}

// List retrieves instances with filtering, sorting and pagination.
func (i *Instance) List(ctx context.Context, req ListInstancesRequest) (*ListInstancesResponse, error) {
	const op = "ListInstances"

	opts := persistence.ListInstancesOptions{
		ResourceType: strings.TrimSpace(req.ResourceType),
		ResourceID:   strings.TrimSpace(req.ResourceID),
		TemplateID:   strings.TrimSpace(req.TemplateID),
		Approver:     strings.TrimSpace(req.Approver),
		Limit:        req.Limit,
		Offset:       req.Offset,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
	}

	if req.Status != "" {
		status := models.InstanceStatus(strings.ToLower(req.Status))
		if !status.Valid() {
			return nil, Validation(op, fmt.Sprintf("invalid status '%s'", req.Status), nil)
		}

		opts.Status = &status
	}

	return i.list(ctx, op, opts)
}

// Pending lists the non-terminal instances the user can currently act on, directly or
// as a delegate.
func (i *Instance) Pending(ctx context.Context, user string, limit, offset int) (*ListInstancesResponse, error) {
	const op = "PendingApprovals"

	if strings.TrimSpace(user) == "" {
		return nil, Validation(op, "user is required", nil)
	}

	return i.list(ctx, op, persistence.ListInstancesOptions{
		Approver:    user,
		NonTerminal: true,
		Limit:       limit,
		Offset:      offset,
		SortBy:      "created_at",
		SortOrder:   "asc",
	})
}

func (i *Instance) list(ctx context.Context, op string, opts persistence.ListInstancesOptions) (*ListInstancesResponse, error) {
	if err := opts.Normalize(); err != nil {
		return nil, Validation(op, err.Error(), err)
	}

	result, err := i.persistence.InstanceRepository().List(ctx, opts)
	if err != nil {
		return nil, FromPersistence(op, err)
	}

	return &ListInstancesResponse{
		Instances:   result.Instances,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}, nil
}

// Statistics counts instances by status and resource type.
func (i *Instance) Statistics(ctx context.Context) (*models.InstanceStatistics, error) {
	stats, err := i.persistence.InstanceRepository().Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	return stats, nil
}

// AuditTrail returns the audit entries of an instance, oldest first.
func (i *Instance) AuditTrail(ctx context.Context, id string) ([]*models.AuditEntry, error) {
	const op = "AuditTrail"

	if _, err := i.persistence.InstanceRepository().GetByID(ctx, id); err != nil {
		return nil, FromPersistence(op, err)
	}

	entries, err := i.persistence.AuditRepository().ListByInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	return entries, nil
}
