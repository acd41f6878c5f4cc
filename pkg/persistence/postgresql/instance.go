package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const instanceColumns = `
			id
		  , template_id
		  , resource_type
		  , resource_id
		  , resource_name
		  , status
		  , current_step
		  , current_approvers
		  , steps_completed
		  , requested_by
		  , previous_resource_status
		  , step_started_at
		  , escalation_count
		  , version
		  , created_at
		  , updated_at
		  , completed_at`

const terminalStatuses = `('approved', 'rejected', 'cancelled')`

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Create inserts a new instance with version 1. The partial unique index on
// (resource_type, resource_id) rejects a second non-terminal instance.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}

	instance.UpdatedAt = instance.CreatedAt
	instance.Version = 1

	stepsJSON, err := json.Marshal(stepLog(instance))
	if err != nil {
		return fmt.Errorf("failed to marshal steps completed: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (id, template_id, resource_type, resource_id, resource_name,
			status, current_step, current_approvers, steps_completed, requested_by,
			previous_resource_status, step_started_at, escalation_count, version,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.TemplateID,
		instance.ResourceType,
		instance.ResourceID,
		instance.ResourceName,
		instance.Status,
		instance.CurrentStep,
		pq.Array(approvers(instance)),
		stepsJSON,
		instance.RequestedBy,
		instance.PreviousResourceStatus,
		instance.StepStartedAt,
		instance.EscalationCount,
		instance.Version,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", persistence.ErrActiveInstanceExists, instance.ResourceType, instance.ResourceID)
		}

		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID returns an instance by its ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

// Update writes the instance if and only if the stored version equals expectedVersion.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance, expectedVersion int64) error {
	stepsJSON, err := json.Marshal(stepLog(instance))
	if err != nil {
		return fmt.Errorf("failed to marshal steps completed: %w", err)
	}

	updatedAt := time.Now().UTC()

	query := `
		UPDATE workflow_instances SET
			status = $3,
			current_step = $4,
			current_approvers = $5,
			steps_completed = $6,
			step_started_at = $7,
			escalation_count = $8,
			completed_at = $9,
			updated_at = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID,
		expectedVersion,
		instance.Status,
		instance.CurrentStep,
		pq.Array(approvers(instance)),
		stepsJSON,
		instance.StepStartedAt,
		instance.EscalationCount,
		instance.CompletedAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)`, instance.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check instance existence: %w", err)
		}

		if !exists {
			return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
		}

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version = expectedVersion + 1
	instance.UpdatedAt = updatedAt

	return nil
}

var instanceSortColumns = map[string]string{
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"resource_name": "resource_name",
	"status":        "status",
}

// List returns paginated and filtered instances.
func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	var (
		conditions []string
		args       []any
	)

	addCondition := func(format string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	if opts.Status != nil {
		addCondition("status = $%d", string(*opts.Status))
	}

	if opts.ResourceType != "" {
		addCondition("resource_type = $%d", opts.ResourceType)
	}

	if opts.ResourceID != "" {
		addCondition("resource_id = $%d", opts.ResourceID)
	}

	if opts.TemplateID != "" {
		addCondition("template_id = $%d", opts.TemplateID)
	}

	if opts.Approver != "" {
		addCondition("$%d = ANY(current_approvers)", opts.Approver)
	}

	if opts.NonTerminal {
		conditions = append(conditions, "status NOT IN "+terminalStatuses)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_instances "+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	// sort column comes from the allowlist, never from user input directly
	query := fmt.Sprintf(`SELECT`+instanceColumns+`
		FROM workflow_instances
		%s
		ORDER BY %s %s, id
		LIMIT %d OFFSET %d
	`, where, instanceSortColumns[opts.SortBy], strings.ToUpper(opts.SortOrder), opts.Limit, opts.Offset)

	instances, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.InstanceListResult{
		Instances:   instances,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(instances)) < totalCount,
	}, nil
}

// ListNonTerminal returns every in-flight instance, oldest first.
func (r *InstanceRepository) ListNonTerminal(ctx context.Context) ([]*models.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `
		FROM workflow_instances
		WHERE status NOT IN ` + terminalStatuses + `
		ORDER BY created_at, id
	`

	return r.query(ctx, query)
}

// ActiveForResource returns the non-terminal instance of a resource.
func (r *InstanceRepository) ActiveForResource(ctx context.Context, resourceType, resourceID string) (*models.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `
		FROM workflow_instances
		WHERE resource_type = $1 AND resource_id = $2 AND status NOT IN ` + terminalStatuses

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, resourceType, resourceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active instance for %s/%s", persistence.ErrInstanceNotFound, resourceType, resourceID)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

// CountActiveByTemplate counts non-terminal instances referencing the template.
func (r *InstanceRepository) CountActiveByTemplate(ctx context.Context, templateID string) (int64, error) {
	var count int64

	query := `SELECT COUNT(*) FROM workflow_instances WHERE template_id = $1 AND status NOT IN ` + terminalStatuses

	err := r.db.QueryRowContext(ctx, query, templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active instances: %w", err)
	}

	return count, nil
}

// Statistics counts instances by status and resource type.
func (r *InstanceRepository) Statistics(ctx context.Context) (*models.InstanceStatistics, error) {
	query := `
		SELECT resource_type, status, COUNT(*)
		FROM workflow_instances
		GROUP BY resource_type, status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	stats := models.NewInstanceStatistics()

	for rows.Next() {
		var (
			resourceType string
			status       string
			count        int64
		)

		err := rows.Scan(&resourceType, &status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}

		stats.Add(resourceType, models.InstanceStatus(status), count)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating statistics: %w", err)
	}

	return stats, nil
}

func (r *InstanceRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance  models.WorkflowInstance
		approvers pq.StringArray
		stepsJSON []byte
		completed sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.ResourceType,
		&instance.ResourceID,
		&instance.ResourceName,
		&instance.Status,
		&instance.CurrentStep,
		&approvers,
		&stepsJSON,
		&instance.RequestedBy,
		&instance.PreviousResourceStatus,
		&instance.StepStartedAt,
		&instance.EscalationCount,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	instance.CurrentApprovers = []string(approvers)
	if instance.CurrentApprovers == nil {
		instance.CurrentApprovers = []string{}
	}

	err = json.Unmarshal(stepsJSON, &instance.StepsCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps completed: %w", err)
	}

	if completed.Valid {
		completedAt := completed.Time
		instance.CompletedAt = &completedAt
	}

	return &instance, nil
}

func approvers(instance *models.WorkflowInstance) []string {
	if instance.CurrentApprovers == nil {
		return []string{}
	}

	return instance.CurrentApprovers
}

func stepLog(instance *models.WorkflowInstance) []models.StepAction {
	if instance.StepsCompleted == nil {
		return []models.StepAction{}
	}

	return instance.StepsCompleted
}
