package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/dukex/signoff/pkg/models"
	"github.com/google/uuid"
)

const auditDir = "audit"

// AuditRepository keeps one JSON array of entries per instance.
type AuditRepository struct {
	store *store
	mu    sync.Mutex
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(s *store) *AuditRepository {
	return &AuditRepository{store: s}
}

// Append adds an entry to the instance trail.
func (ar *AuditRepository) Append(_ context.Context, entry *models.AuditEntry) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audit entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	entries, err := ar.load(entry.InstanceID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	return ar.store.write(auditDir, entry.InstanceID, entries)
}

// ListByInstance returns the audit trail of an instance in append order.
func (ar *AuditRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.AuditEntry, error) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	return ar.load(instanceID)
}

func (ar *AuditRepository) load(instanceID string) ([]*models.AuditEntry, error) {
	entries := make([]*models.AuditEntry, 0)

	err := ar.store.read(auditDir, instanceID, &entries)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load audit trail for %s: %w", instanceID, err)
	}

	return entries, nil
}
