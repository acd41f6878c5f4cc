// Package resolver computes the set of users eligible to act on a workflow step.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/signoff/pkg/models"
)

var (
	// ErrNoApproversResolved is returned when a role and scope yield nobody.
	ErrNoApproversResolved = errors.New("no approvers resolved")

	// ErrUnitNotFound is returned by an OrgHierarchy that does not know the resource.
	ErrUnitNotFound = errors.New("organizational unit not found")
)

// OrgHierarchy locates a resource in the organization.
type OrgHierarchy interface {
	UnitOf(ctx context.Context, resourceType, resourceID string) (models.OrgUnit, error)
}

// ApproverDirectory enumerates users holding a role within a scope.
type ApproverDirectory interface {
	UsersWithRole(ctx context.Context, role string, scope models.Scope) ([]string, error)
}

// DelegationSource returns the non-revoked delegations of the given delegators.
type DelegationSource interface {
	ListByDelegators(ctx context.Context, delegatorIDs []string) ([]*models.Delegation, error)
}

// Resolver turns a role and approver context into a concrete approver set,
// overlaying effective delegations. Results are never cached.
type Resolver struct {
	org         OrgHierarchy
	directory   ApproverDirectory
	delegations DelegationSource
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used to evaluate delegation windows.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a Resolver.
func New(org OrgHierarchy, directory ApproverDirectory, delegations DelegationSource, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		org:         org,
		directory:   directory,
		delegations: delegations,
		logger:      logger.With("module", "resolver"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveStep resolves the approvers of a step definition.
func (r *Resolver) ResolveStep(ctx context.Context, step models.Step, resource models.ResourceRef) ([]string, error) {
	return r.Resolve(ctx, step.ApproverRole, step.ApproverContext, resource)
}

// Resolve enumerates holders of role in the resource's unit at the given context level,
// then adds the delegate of every candidate with an effective delegation. Delegators stay
// in the set. The result is sorted and free of duplicates.
func (r *Resolver) Resolve(ctx context.Context, role string, level models.ApproverContext, resource models.ResourceRef) ([]string, error) {
	scope, err := r.scope(ctx, level, resource)
	if err != nil {
		return nil, err
	}

	candidates, err := r.directory.UsersWithRole(ctx, role, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}

	approvers := dedupe(candidates)
	if len(approvers) == 0 {
		return nil, fmt.Errorf("%w: role %q in %s scope of %s/%s", ErrNoApproversResolved, role, level, resource.Type, resource.ID)
	}

	delegates, err := r.effectiveDelegates(ctx, approvers, resource.Type)
	if err != nil {
		return nil, err
	}

	result := dedupe(append(approvers, delegates...))

	r.logger.DebugContext(ctx, "resolved approvers",
		"role", role,
		"context", level,
		"resource_type", resource.Type,
		"resource_id", resource.ID,
		"candidates", len(approvers),
		"delegates", len(delegates),
	)

	return result, nil
}

func (r *Resolver) scope(ctx context.Context, level models.ApproverContext, resource models.ResourceRef) (models.Scope, error) {
	if !level.Valid() {
		return models.Scope{}, fmt.Errorf("%w: %q", models.ErrInvalidApproverContext, level)
	}

	unit, err := r.org.UnitOf(ctx, resource.Type, resource.ID)
	if err != nil {
		if !errors.Is(err, ErrUnitNotFound) {
			return models.Scope{}, fmt.Errorf("failed to look up unit of %s/%s: %w", resource.Type, resource.ID, err)
		}

		if level == models.ContextOrganization {
			return models.Scope{Level: models.ContextOrganization}, nil
		}

		return models.Scope{}, fmt.Errorf("%w: %s/%s has no organizational placement", ErrNoApproversResolved, resource.Type, resource.ID)
	}

	scope, ok := unit.ScopeFor(level)
	if !ok {
		return models.Scope{}, fmt.Errorf("%w: %s/%s has no %s", ErrNoApproversResolved, resource.Type, resource.ID, level)
	}

	return scope, nil
}

func (r *Resolver) effectiveDelegates(ctx context.Context, delegators []string, workflowType string) ([]string, error) {
	if r.delegations == nil {
		return nil, nil
	}

	delegations, err := r.delegations.ListByDelegators(ctx, delegators)
	if err != nil {
		return nil, fmt.Errorf("failed to load delegations: %w", err)
	}

	now := r.now()
	delegates := make([]string, 0, len(delegations))

	for _, delegation := range delegations {
		if delegation.DelegatorUserID == delegation.DelegateToUserID {
			continue
		}

		if !slices.Contains(delegators, delegation.DelegatorUserID) {
			continue
		}

		if delegation.EffectiveAt(now, workflowType) {
			delegates = append(delegates, delegation.DelegateToUserID)
		}
	}

	return delegates, nil
}

func dedupe(users []string) []string {
	out := make([]string, 0, len(users))

	for _, user := range users {
		if user != "" {
			out = append(out, user)
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}
