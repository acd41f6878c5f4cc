package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/google/uuid"
)

const templateColumns = `
			id
		  , name
		  , description
		  , resource_type
		  , trigger_conditions
		  , auto_start
		  , notify_on_start
		  , notify_on_complete
		  , steps
		  , created_at
		  , updated_at`

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// Save upserts a template. The step sequence is replaced as a whole.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		template.ID = id.String()
	}

	conditionsJSON, err := json.Marshal(template.TriggerConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger conditions: %w", err)
	}

	stepsJSON, err := json.Marshal(template.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, name, description, resource_type, trigger_conditions,
			auto_start, notify_on_start, notify_on_complete, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			resource_type = EXCLUDED.resource_type,
			trigger_conditions = EXCLUDED.trigger_conditions,
			auto_start = EXCLUDED.auto_start,
			notify_on_start = EXCLUDED.notify_on_start,
			notify_on_complete = EXCLUDED.notify_on_complete,
			steps = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		template.ResourceType,
		conditionsJSON,
		template.AutoStart,
		template.NotifyOnStart,
		template.NotifyOnComplete,
		stepsJSON,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// GetByID returns a template by its ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		WHERE id = $1
	`

	template, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// List returns all templates ordered by creation time.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		ORDER BY created_at, id
	`

	return r.query(ctx, query)
}

// ListByResourceType returns the templates for a resource type, oldest first.
func (r *TemplateRepository) ListByResourceType(ctx context.Context, resourceType string) ([]*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		WHERE resource_type = $1
		ORDER BY created_at, id
	`

	return r.query(ctx, query, resourceType)
}

// Delete removes a template by its ID.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
	}

	return nil
}

func (r *TemplateRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*models.WorkflowTemplate, error) {
	var (
		template       models.WorkflowTemplate
		conditionsJSON []byte
		stepsJSON      []byte
	)

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.ResourceType,
		&conditionsJSON,
		&template.AutoStart,
		&template.NotifyOnStart,
		&template.NotifyOnComplete,
		&stepsJSON,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(conditionsJSON, &template.TriggerConditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
	}

	err = json.Unmarshal(stepsJSON, &template.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &template, nil
}
