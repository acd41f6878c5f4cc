package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/google/uuid"
)

const instancesDir = "instances"

// InstanceRepository handles workflow instance file operations. The mutex makes the
// active-instance check and the version compare-and-swap atomic within the process.
type InstanceRepository struct {
	store *store
	mu    sync.RWMutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(s *store) *InstanceRepository {
	return &InstanceRepository{store: s}
}

// Create stores a new instance with version 1.
func (ir *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	all, err := ir.all()
	if err != nil {
		return err
	}

	for _, existing := range all {
		if existing.ResourceType == instance.ResourceType &&
			existing.ResourceID == instance.ResourceID &&
			!existing.Status.IsTerminal() {
			return fmt.Errorf("%w: %s/%s (instance %s)", persistence.ErrActiveInstanceExists,
				instance.ResourceType, instance.ResourceID, existing.ID)
		}
	}

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = instance.CreatedAt
	instance.Version = 1

	return ir.store.write(instancesDir, instance.ID, instance)
}

// GetByID retrieves an instance by its ID.
func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	return ir.get(id)
}

func (ir *InstanceRepository) get(id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := ir.store.read(instancesDir, id, &instance)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to fetch instance %s: %w", id, err)
	}

	return &instance, nil
}

// Update writes the instance only if the stored version still equals expectedVersion.
func (ir *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance, expectedVersion int64) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	current, err := ir.get(instance.ID)
	if err != nil {
		return err
	}

	if current.Version != expectedVersion {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version = expectedVersion + 1
	instance.UpdatedAt = time.Now().UTC()

	return ir.store.write(instancesDir, instance.ID, instance)
}

func (ir *InstanceRepository) all() ([]*models.WorkflowInstance, error) {
	ids, err := ir.store.ids(instancesDir)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := ir.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %s: %w", id, err)
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

// List returns paginated and filtered instances with in-memory operations.
func (ir *InstanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	ir.mu.RLock()
	all, err := ir.all()
	ir.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if matchesInstance(instance, opts) {
			filtered = append(filtered, instance)
		}
	}

	sortInstances(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.InstanceListResult{
			Instances:   make([]*models.WorkflowInstance, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.InstanceListResult{
		Instances:   filtered[opts.Offset:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

func matchesInstance(instance *models.WorkflowInstance, opts persistence.ListInstancesOptions) bool {
	if opts.Status != nil && instance.Status != *opts.Status {
		return false
	}

	if opts.NonTerminal && instance.Status.IsTerminal() {
		return false
	}

	if opts.ResourceType != "" && instance.ResourceType != opts.ResourceType {
		return false
	}

	if opts.ResourceID != "" && instance.ResourceID != opts.ResourceID {
		return false
	}

	if opts.TemplateID != "" && instance.TemplateID != opts.TemplateID {
		return false
	}

	if opts.Approver != "" && !instance.IsApprover(opts.Approver) {
		return false
	}

	return true
}

// sortInstances sorts instances in-place based on the specified field and order.
func sortInstances(instances []*models.WorkflowInstance, sortBy, sortOrder string) {
	sort.SliceStable(instances, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = instances[i].UpdatedAt.Before(instances[j].UpdatedAt)
		case "resource_name":
			less = instances[i].ResourceName < instances[j].ResourceName
		case "status":
			less = instances[i].Status < instances[j].Status
		default:
			less = instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// ListNonTerminal returns every in-flight instance.
func (ir *InstanceRepository) ListNonTerminal(_ context.Context) ([]*models.WorkflowInstance, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	all, err := ir.all()
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if !instance.Status.IsTerminal() {
			active = append(active, instance)
		}
	}

	sortInstances(active, "created_at", "asc")

	return active, nil
}

// ActiveForResource returns the non-terminal instance of a resource.
func (ir *InstanceRepository) ActiveForResource(ctx context.Context, resourceType, resourceID string) (*models.WorkflowInstance, error) {
	active, err := ir.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}

	for _, instance := range active {
		if instance.ResourceType == resourceType && instance.ResourceID == resourceID {
			return instance, nil
		}
	}

	return nil, fmt.Errorf("%w: no active instance for %s/%s", persistence.ErrInstanceNotFound, resourceType, resourceID)
}

// CountActiveByTemplate counts non-terminal instances referencing the template.
func (ir *InstanceRepository) CountActiveByTemplate(ctx context.Context, templateID string) (int64, error) {
	active, err := ir.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	var count int64

	for _, instance := range active {
		if instance.TemplateID == templateID {
			count++
		}
	}

	return count, nil
}

// Statistics counts instances by status and resource type.
func (ir *InstanceRepository) Statistics(_ context.Context) (*models.InstanceStatistics, error) {
	ir.mu.RLock()
	defer ir.mu.RUnlock()

	all, err := ir.all()
	if err != nil {
		return nil, err
	}

	stats := models.NewInstanceStatistics()
	for _, instance := range all {
		stats.Add(instance.ResourceType, instance.Status, 1)
	}

	return stats, nil
}
