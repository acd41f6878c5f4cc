package resolver_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/directory"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delegationList []*models.Delegation

func (d delegationList) ListByDelegators(_ context.Context, ids []string) ([]*models.Delegation, error) {
	out := make([]*models.Delegation, 0)

	for _, delegation := range d {
		for _, id := range ids {
			if delegation.DelegatorUserID == id && delegation.RevokedAt == nil {
				out = append(out, delegation)
			}
		}
	}

	return out, nil
}

type failingOrg struct{}

func (failingOrg) UnitOf(context.Context, string, string) (models.OrgUnit, error) {
	return models.OrgUnit{}, errors.New("hierarchy unavailable")
}

var (
	now       = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	inspectB1 = models.ResourceRef{Type: "inspection", ID: "r-1"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDirectory() *directory.Directory {
	d := directory.New()
	d.PutUser(directory.User{ID: "sup-b1", Roles: []string{"supervisor"}, OrgUnit: models.OrgUnit{Organization: "acme", Branch: "b1"}})
	d.PutUser(directory.User{ID: "sup-b2", Roles: []string{"supervisor"}, OrgUnit: models.OrgUnit{Organization: "acme", Branch: "b2"}})
	d.PutUser(directory.User{ID: "mgr-1", Roles: []string{"manager"}, OrgUnit: models.OrgUnit{Organization: "acme"}})
	d.PutUser(directory.User{ID: "mgr-2", Roles: []string{"manager"}, OrgUnit: models.OrgUnit{Organization: "acme"}})
	d.PlaceResource("inspection", "r-1", models.OrgUnit{Organization: "acme", Branch: "b1", Region: "north"})

	return d
}

func newResolver(delegations delegationList) *resolver.Resolver {
	d := testDirectory()

	return resolver.New(d, d, delegations, testLogger(), resolver.WithClock(func() time.Time { return now }))
}

func TestResolve_ContextScoping(t *testing.T) {
	ctx := context.Background()
	r := newResolver(nil)

	approvers, err := r.Resolve(ctx, "supervisor", models.ContextBranch, inspectB1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sup-b1"}, approvers)

	approvers, err = r.Resolve(ctx, "manager", models.ContextOrganization, inspectB1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, approvers)

	approvers, err = r.ResolveStep(ctx, models.Step{ApproverRole: "supervisor", ApproverContext: models.ContextOrganization}, inspectB1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sup-b1", "sup-b2"}, approvers)
}

func TestResolve_EmptySetFails(t *testing.T) {
	ctx := context.Background()
	r := newResolver(nil)

	_, err := r.Resolve(ctx, "auditor", models.ContextOrganization, inspectB1)
	assert.ErrorIs(t, err, resolver.ErrNoApproversResolved)

	_, err = r.Resolve(ctx, "supervisor", models.ContextDepartment, inspectB1)
	assert.ErrorIs(t, err, resolver.ErrNoApproversResolved, "resource without a department")

	_, err = r.Resolve(ctx, "supervisor", models.ContextBranch, models.ResourceRef{Type: "inspection", ID: "unplaced"})
	assert.ErrorIs(t, err, resolver.ErrNoApproversResolved)

	approvers, err := r.Resolve(ctx, "manager", models.ContextOrganization, models.ResourceRef{Type: "inspection", ID: "unplaced"})
	require.NoError(t, err)
	assert.Len(t, approvers, 2)

	_, err = r.Resolve(ctx, "supervisor", "galaxy", inspectB1)
	assert.ErrorIs(t, err, models.ErrInvalidApproverContext)
}

func TestResolve_HierarchyFailurePropagates(t *testing.T) {
	d := testDirectory()
	r := resolver.New(failingOrg{}, d, nil, testLogger())

	_, err := r.Resolve(context.Background(), "supervisor", models.ContextBranch, inspectB1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, resolver.ErrNoApproversResolved)
}

func TestResolve_DelegationOverlay(t *testing.T) {
	ctx := context.Background()
	revokedAt := now.Add(-time.Minute)

	tests := []struct {
		name       string
		delegation *models.Delegation
		want       []string
	}{
		{
			name: "active delegation adds delegate alongside delegator",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b1", DelegateToUserID: "deputy",
				ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 0, 1),
			},
			want: []string{"deputy", "sup-b1"},
		},
		{
			name: "expired delegation is ignored",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b1", DelegateToUserID: "deputy",
				ValidFrom: now.AddDate(0, 0, -10), ValidUntil: now.AddDate(0, 0, -5),
			},
			want: []string{"sup-b1"},
		},
		{
			name: "revoked delegation is ignored",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b1", DelegateToUserID: "deputy",
				ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 0, 1), RevokedAt: &revokedAt,
			},
			want: []string{"sup-b1"},
		},
		{
			name: "workflow type filter excludes",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b1", DelegateToUserID: "deputy",
				ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 0, 1), WorkflowTypes: []string{"task"},
			},
			want: []string{"sup-b1"},
		},
		{
			name: "delegation of a non candidate is ignored",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b2", DelegateToUserID: "deputy",
				ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 0, 1),
			},
			want: []string{"sup-b1"},
		},
		{
			name: "delegate already an approver is not duplicated",
			delegation: &models.Delegation{
				DelegatorUserID: "sup-b1", DelegateToUserID: "sup-b1",
				ValidFrom: now.AddDate(0, 0, -1), ValidUntil: now.AddDate(0, 0, 1),
			},
			want: []string{"sup-b1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(delegationList{tt.delegation})

			approvers, err := r.Resolve(ctx, "supervisor", models.ContextBranch, inspectB1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, approvers)
		})
	}
}
