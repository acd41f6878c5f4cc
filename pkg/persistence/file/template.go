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

const templatesDir = "templates"

// TemplateRepository handles template file operations.
type TemplateRepository struct {
	store *store
	mu    sync.RWMutex
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(s *store) *TemplateRepository {
	return &TemplateRepository{store: s}
}

// Save creates or replaces a template.
func (tr *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

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

	return tr.store.write(templatesDir, template.ID, template)
}

// GetByID retrieves a template by its ID.
func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return tr.get(id)
}

func (tr *TemplateRepository) get(id string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := tr.store.read(templatesDir, id, &template)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
		}

		return nil, fmt.Errorf("failed to fetch template %s: %w", id, err)
	}

	return &template, nil
}

// List returns all templates ordered by creation time.
func (tr *TemplateRepository) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	ids, err := tr.store.ids(templatesDir)
	if err != nil {
		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0, len(ids))

	for _, id := range ids {
		template, err := tr.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", id, err)
		}

		templates = append(templates, template)
	}

	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

// ListByResourceType returns the templates for a resource type, oldest first.
func (tr *TemplateRepository) ListByResourceType(ctx context.Context, resourceType string) ([]*models.WorkflowTemplate, error) {
	all, err := tr.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowTemplate, 0)

	for _, template := range all {
		if template.ResourceType == resourceType {
			filtered = append(filtered, template)
		}
	}

	return filtered, nil
}

// Delete removes a template by its ID.
func (tr *TemplateRepository) Delete(_ context.Context, id string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, err := tr.get(id); err != nil {
		return err
	}

	return tr.store.remove(templatesDir, id)
}
