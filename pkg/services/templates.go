package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Template manages workflow templates.
type Template struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewTemplate creates a new template service.
func NewTemplate(p persistence.Persistence, validate *validator.Validate, logger *slog.Logger) *Template {
	return &Template{
		persistence: p,
		validator:   validate,
		logger:      logger.With("module", "template_service"),
		now:         time.Now,
	}
}

// List returns every template.
func (t *Template) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	templates, err := t.persistence.TemplateRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// FetchByID retrieves a template by its ID.
func (t *Template) FetchByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	template, err := t.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, FromPersistence("FetchTemplate", err)
	}

	return template, nil
}

// Create validates and stores a new template.
func (t *Template) Create(ctx context.Context, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	const op = "CreateTemplate"

	if err := t.validate(op, template); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate template ID: %w", err)
	}

	now := t.now().UTC()
	template.ID = id.String()
	template.CreatedAt = now
	template.UpdatedAt = now

	if err := t.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	t.logger.InfoContext(ctx, "template created", "template_id", template.ID, "resource_type", template.ResourceType)

	return template, nil
}

// Update replaces an existing template, including its whole step sequence.
// Running instances keep reading the template by ID. An instance whose current step
// was removed is treated as being at the new last step: its timeout and escalation
// come from that step and its next approval completes the workflow.
func (t *Template) Update(ctx context.Context, id string, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	const op = "UpdateTemplate"

	existing, err := t.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, FromPersistence(op, err)
	}

	if err := t.validate(op, template); err != nil {
		return nil, err
	}

	template.ID = id
	template.CreatedAt = existing.CreatedAt
	template.UpdatedAt = t.now().UTC()

	if err := t.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	return template, nil
}

// Delete removes a template that no active instance references.
func (t *Template) Delete(ctx context.Context, id string) error {
	const op = "DeleteTemplate"

	if _, err := t.persistence.TemplateRepository().GetByID(ctx, id); err != nil {
		return FromPersistence(op, err)
	}

	active, err := t.persistence.InstanceRepository().CountActiveByTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count active instances: %w", err)
	}

	if active > 0 {
		return Conflict(op, fmt.Sprintf("template has %d active workflow instances", active), nil)
	}

	if err := t.persistence.TemplateRepository().Delete(ctx, id); err != nil {
		return FromPersistence(op, err)
	}

	t.logger.InfoContext(ctx, "template deleted", "template_id", id)

	return nil
}

func (t *Template) validate(op string, template *models.WorkflowTemplate) error {
	if err := t.validator.Struct(template); err != nil {
		return Validation(op, describeValidation(err), err)
	}

	if err := models.ValidateSteps(template.Steps); err != nil {
		return Validation(op, err.Error(), err)
	}

	if err := template.TriggerConditions.Validate(); err != nil {
		return Validation(op, err.Error(), err)
	}

	return nil
}

// describeValidation turns validator errors into a single readable message.
func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return strings.Join(messages, "; ")
}
