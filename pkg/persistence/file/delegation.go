package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/google/uuid"
)

const delegationsDir = "delegations"

// DelegationRepository handles delegation file operations.
type DelegationRepository struct {
	store *store
	mu    sync.RWMutex
}

// NewDelegationRepository creates a new delegation repository.
func NewDelegationRepository(s *store) *DelegationRepository {
	return &DelegationRepository{store: s}
}

// Save creates or replaces a delegation.
func (dr *DelegationRepository) Save(_ context.Context, delegation *models.Delegation) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

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

	return dr.store.write(delegationsDir, delegation.ID, delegation)
}

// GetByID retrieves a delegation by its ID.
func (dr *DelegationRepository) GetByID(_ context.Context, id string) (*models.Delegation, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	return dr.get(id)
}

func (dr *DelegationRepository) get(id string) (*models.Delegation, error) {
	var delegation models.Delegation

	err := dr.store.read(delegationsDir, id, &delegation)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrDelegationNotFound, id)
		}

		return nil, fmt.Errorf("failed to fetch delegation %s: %w", id, err)
	}

	return &delegation, nil
}

func (dr *DelegationRepository) all() ([]*models.Delegation, error) {
	ids, err := dr.store.ids(delegationsDir)
	if err != nil {
		return nil, err
	}

	delegations := make([]*models.Delegation, 0, len(ids))

	for _, id := range ids {
		delegation, err := dr.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load delegation %s: %w", id, err)
		}

		delegations = append(delegations, delegation)
	}

	sort.SliceStable(delegations, func(i, j int) bool {
		return delegations[i].CreatedAt.Before(delegations[j].CreatedAt)
	})

	return delegations, nil
}

// List returns the delegations matching the options.
func (dr *DelegationRepository) List(_ context.Context, opts persistence.ListDelegationsOptions) ([]*models.Delegation, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	all, err := dr.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Delegation, 0)

	for _, delegation := range all {
		if opts.DelegatorUserID != "" && delegation.DelegatorUserID != opts.DelegatorUserID {
			continue
		}

		if opts.DelegateToUserID != "" && delegation.DelegateToUserID != opts.DelegateToUserID {
			continue
		}

		if !opts.IncludeRevoked && delegation.RevokedAt != nil {
			continue
		}

		filtered = append(filtered, delegation)
	}

	return filtered, nil
}

// ListByDelegators returns the non-revoked delegations of the given users.
func (dr *DelegationRepository) ListByDelegators(_ context.Context, delegatorIDs []string) ([]*models.Delegation, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	all, err := dr.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Delegation, 0)

	for _, delegation := range all {
		if delegation.RevokedAt == nil && slices.Contains(delegatorIDs, delegation.DelegatorUserID) {
			filtered = append(filtered, delegation)
		}
	}

	return filtered, nil
}

// Revoke marks a delegation revoked.
func (dr *DelegationRepository) Revoke(_ context.Context, id, revokedBy string, at time.Time) (*models.Delegation, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	delegation, err := dr.get(id)
	if err != nil {
		return nil, err
	}

	if delegation.RevokedAt != nil {
		return nil, fmt.Errorf("%w: %s", persistence.ErrDelegationRevoked, id)
	}

	revokedAt := at.UTC()
	delegation.RevokedAt = &revokedAt
	delegation.RevokedBy = revokedBy

	err = dr.store.write(delegationsDir, delegation.ID, delegation)
	if err != nil {
		return nil, err
	}

	return delegation, nil
}
