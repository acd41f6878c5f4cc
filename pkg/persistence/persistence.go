// Package persistence provides the storage abstraction for templates, instances, delegations and audit entries.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/signoff/pkg/models"
)

type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository
	DelegationRepository() DelegationRepository
	AuditRepository() AuditRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores workflow templates.
type TemplateRepository interface {
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context) ([]*models.WorkflowTemplate, error)
	// ListByResourceType returns templates ordered by creation time, oldest first.
	ListByResourceType(ctx context.Context, resourceType string) ([]*models.WorkflowTemplate, error)
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances. Update is a conditional write: it only
// succeeds when the stored version equals expectedVersion, and bumps the version.
type InstanceRepository interface {
	// Create fails with ErrActiveInstanceExists if a non-terminal instance exists for the same resource.
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Update(ctx context.Context, instance *models.WorkflowInstance, expectedVersion int64) error
	List(ctx context.Context, opts ListInstancesOptions) (*InstanceListResult, error)
	ListNonTerminal(ctx context.Context) ([]*models.WorkflowInstance, error)
	ActiveForResource(ctx context.Context, resourceType, resourceID string) (*models.WorkflowInstance, error)
	CountActiveByTemplate(ctx context.Context, templateID string) (int64, error)
	Statistics(ctx context.Context) (*models.InstanceStatistics, error)
}

// DelegationRepository stores delegations.
type DelegationRepository interface {
	Save(ctx context.Context, delegation *models.Delegation) error
	GetByID(ctx context.Context, id string) (*models.Delegation, error)
	List(ctx context.Context, opts ListDelegationsOptions) ([]*models.Delegation, error)
	// ListByDelegators returns the non-revoked delegations of the given users.
	ListByDelegators(ctx context.Context, delegatorIDs []string) ([]*models.Delegation, error)
	Revoke(ctx context.Context, id, revokedBy string, at time.Time) (*models.Delegation, error)
}

// AuditRepository stores audit entries.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEntry, error)
}

// ListInstancesOptions filters and paginates instances.
type ListInstancesOptions struct {
	Status       *models.InstanceStatus
	ResourceType string
	ResourceID   string
	TemplateID   string
	Approver     string
	NonTerminal  bool

	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// InstanceListResult is a page of instances.
type InstanceListResult struct {
	Instances   []*models.WorkflowInstance
	TotalCount  int64
	HasNextPage bool
}

// ListDelegationsOptions filters delegations. Empty fields do not filter.
type ListDelegationsOptions struct {
	DelegatorUserID  string
	DelegateToUserID string
	IncludeRevoked   bool
}

// Normalize applies defaults and validates sorting against the allowlist.
func (o *ListInstancesOptions) Normalize() error {
	if o.Limit <= 0 || o.Limit > MaxPageSize {
		o.Limit = DefaultPageSize
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !AllowedInstanceSorts[o.SortBy] {
		return ErrInvalidSortField
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return ErrInvalidSortOrder
	}

	return nil
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AllowedInstanceSorts is the sort field allowlist shared by every backend.
var AllowedInstanceSorts = map[string]bool{
	"created_at":    true,
	"updated_at":    true,
	"resource_name": true,
	"status":        true,
}
