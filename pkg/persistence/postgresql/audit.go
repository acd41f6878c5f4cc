package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/models"
	"github.com/google/uuid"
)

// AuditRepository handles audit entry database operations.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audit entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	query := `
		INSERT INTO audit_entries (id, instance_id, action, actor, step_number, from_status, to_status, comments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.Action,
		entry.Actor,
		entry.StepNumber,
		entry.FromStatus,
		entry.ToStatus,
		entry.Comments,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByInstance returns the audit trail of an instance in append order.
func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT
			id
		  , instance_id
		  , action
		  , actor
		  , step_number
		  , from_status
		  , to_status
		  , comments
		  , created_at
		FROM audit_entries
		WHERE instance_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		var entry models.AuditEntry

		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.Action,
			&entry.Actor,
			&entry.StepNumber,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.Comments,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
