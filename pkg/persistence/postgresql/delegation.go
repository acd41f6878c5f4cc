package postgresql

import (
	"context"
	"database/sql"
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

const delegationColumns = `
			id
		  , delegator_user_id
		  , delegate_to_user_id
		  , valid_from
		  , valid_until
		  , workflow_types
		  , reason
		  , created_at
		  , revoked_at
		  , revoked_by`

// DelegationRepository handles delegation database operations.
type DelegationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDelegationRepository creates a new delegation repository.
func NewDelegationRepository(db *sql.DB, logger *slog.Logger) *DelegationRepository {
	return &DelegationRepository{db: db, logger: logger}
}

// Save upserts a delegation.
func (r *DelegationRepository) Save(ctx context.Context, delegation *models.Delegation) error {
	if delegation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate delegation ID: %w", err)
		}

		delegation.ID = id.String()
	}

	if delegation.CreatedAt.IsZero() {
		delegation.CreatedAt = time.Now().UTC()
	}

	workflowTypes := delegation.WorkflowTypes
	if workflowTypes == nil {
		workflowTypes = []string{}
	}

	query := `
		INSERT INTO delegations (id, delegator_user_id, delegate_to_user_id, valid_from, valid_until,
			workflow_types, reason, created_at, revoked_at, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			workflow_types = EXCLUDED.workflow_types,
			reason = EXCLUDED.reason,
			revoked_at = EXCLUDED.revoked_at,
			revoked_by = EXCLUDED.revoked_by
	`

	_, err := r.db.ExecContext(ctx, query,
		delegation.ID,
		delegation.DelegatorUserID,
		delegation.DelegateToUserID,
		delegation.ValidFrom,
		delegation.ValidUntil,
		pq.Array(workflowTypes),
		delegation.Reason,
		delegation.CreatedAt,
		delegation.RevokedAt,
		delegation.RevokedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save delegation: %w", err)
	}

	return nil
}

// GetByID returns a delegation by its ID.
func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*models.Delegation, error) {
	query := `SELECT` + delegationColumns + `
		FROM delegations
		WHERE id = $1
	`

	delegation, err := scanDelegation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrDelegationNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan delegation: %w", err)
	}

	return delegation, nil
}

// List returns the delegations matching the options.
func (r *DelegationRepository) List(ctx context.Context, opts persistence.ListDelegationsOptions) ([]*models.Delegation, error) {
	var (
		conditions []string
		args       []any
	)

	if opts.DelegatorUserID != "" {
		args = append(args, opts.DelegatorUserID)
		conditions = append(conditions, fmt.Sprintf("delegator_user_id = $%d", len(args)))
	}

	if opts.DelegateToUserID != "" {
		args = append(args, opts.DelegateToUserID)
		conditions = append(conditions, fmt.Sprintf("delegate_to_user_id = $%d", len(args)))
	}

	if !opts.IncludeRevoked {
		conditions = append(conditions, "revoked_at IS NULL")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT` + delegationColumns + `
		FROM delegations
		` + where + `
		ORDER BY created_at, id
	`

	return r.query(ctx, query, args...)
}

// ListByDelegators returns the non-revoked delegations of the given users.
func (r *DelegationRepository) ListByDelegators(ctx context.Context, delegatorIDs []string) ([]*models.Delegation, error) {
	if len(delegatorIDs) == 0 {
		return []*models.Delegation{}, nil
	}

	query := `SELECT` + delegationColumns + `
		FROM delegations
		WHERE delegator_user_id = ANY($1) AND revoked_at IS NULL
		ORDER BY created_at, id
	`

	return r.query(ctx, query, pq.Array(delegatorIDs))
}

// Revoke marks a delegation revoked.
func (r *DelegationRepository) Revoke(ctx context.Context, id, revokedBy string, at time.Time) (*models.Delegation, error) {
	query := `
		UPDATE delegations SET revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at.UTC(), revokedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke delegation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	delegation, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", persistence.ErrDelegationRevoked, id)
	}

	return delegation, nil
}

func (r *DelegationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Delegation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	delegations := make([]*models.Delegation, 0)

	for rows.Next() {
		delegation, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}

		delegations = append(delegations, delegation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating delegations: %w", err)
	}

	return delegations, nil
}

func scanDelegation(row rowScanner) (*models.Delegation, error) {
	var (
		delegation    models.Delegation
		workflowTypes pq.StringArray
		revokedAt     sql.NullTime
	)

	err := row.Scan(
		&delegation.ID,
		&delegation.DelegatorUserID,
		&delegation.DelegateToUserID,
		&delegation.ValidFrom,
		&delegation.ValidUntil,
		&workflowTypes,
		&delegation.Reason,
		&delegation.CreatedAt,
		&revokedAt,
		&delegation.RevokedBy,
	)
	if err != nil {
		return nil, err
	}

	if len(workflowTypes) > 0 {
		delegation.WorkflowTypes = []string(workflowTypes)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		delegation.RevokedAt = &t
	}

	return &delegation, nil
}
