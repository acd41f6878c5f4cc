package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DelegationValidity is the answer to "can this delegation be used at this moment".
type DelegationValidity struct {
	DelegationID string                  `json:"delegation_id"`
	Status       models.DelegationStatus `json:"status"`
	Effective    bool                    `json:"effective"`
	At           time.Time               `json:"at"`
	WorkflowType string                  `json:"workflow_type,omitempty"`
}

// Delegation manages approval delegations.
type Delegation struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewDelegation creates a new delegation service.
func NewDelegation(p persistence.Persistence, validate *validator.Validate, logger *slog.Logger) *Delegation {
	return &Delegation{
		persistence: p,
		validator:   validate,
		logger:      logger.With("module", "delegation_service"),
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (d *Delegation) WithClock(now func() time.Time) *Delegation {
	d.now = now

	return d
}

// Create stores a delegation. A window that already ended is accepted; it is simply
// never effective.
func (d *Delegation) Create(ctx context.Context, delegation *models.Delegation) (*models.Delegation, error) {
	const op = "CreateDelegation"

	delegation.DelegatorUserID = strings.TrimSpace(delegation.DelegatorUserID)
	delegation.DelegateToUserID = strings.TrimSpace(delegation.DelegateToUserID)

	if err := d.validator.Struct(delegation); err != nil {
		return nil, Validation(op, describeValidation(err), err)
	}

	if delegation.ValidFrom.After(delegation.ValidUntil) {
		return nil, Validation(op, "valid_from must not be after valid_until", nil)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate delegation ID: %w", err)
	}

	delegation.ID = id.String()
	delegation.CreatedAt = d.now().UTC()
	delegation.RevokedAt = nil
	delegation.RevokedBy = ""

	if err := d.persistence.DelegationRepository().Save(ctx, delegation); err != nil {
		return nil, fmt.Errorf("failed to create delegation: %w", err)
	}

	d.logger.InfoContext(ctx, "delegation created",
		"delegation_id", delegation.ID,
		"delegator", delegation.DelegatorUserID,
		"delegate", delegation.DelegateToUserID,
	)

	return delegation, nil
}

// FetchByID retrieves a delegation by its ID.
func (d *Delegation) FetchByID(ctx context.Context, id string) (*models.Delegation, error) {
	delegation, err := d.persistence.DelegationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, FromPersistence("FetchDelegation", err)
	}

	return delegation, nil
}

// List returns delegations filtered by delegator or delegate.
func (d *Delegation) List(ctx context.Context, opts persistence.ListDelegationsOptions) ([]*models.Delegation, error) {
	delegations, err := d.persistence.DelegationRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}

	return delegations, nil
}

// Revoke ends a delegation immediately. Only the delegator may revoke it.
func (d *Delegation) Revoke(ctx context.Context, id, actor string) (*models.Delegation, error) {
	const op = "RevokeDelegation"

	existing, err := d.persistence.DelegationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, FromPersistence(op, err)
	}

	if existing.DelegatorUserID != actor {
		return nil, Forbidden(op, "only the delegator can revoke a delegation")
	}

	revoked, err := d.persistence.DelegationRepository().Revoke(ctx, id, actor, d.now().UTC())
	if err != nil {
		return nil, FromPersistence(op, err)
	}

	d.logger.InfoContext(ctx, "delegation revoked", "delegation_id", id, "revoked_by", actor)

	return revoked, nil
}

// Validity reports the delegation status at the given time, and whether it covers the
// workflow type. A zero time means now.
func (d *Delegation) Validity(ctx context.Context, id string, at time.Time, workflowType string) (*DelegationValidity, error) {
	delegation, err := d.persistence.DelegationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, FromPersistence("DelegationValidity", err)
	}

	if at.IsZero() {
		at = d.now().UTC()
	}

	return &DelegationValidity{
		DelegationID: delegation.ID,
		Status:       delegation.Status(at),
		Effective:    delegation.EffectiveAt(at, workflowType),
		At:           at,
		WorkflowType: workflowType,
	}, nil
}
