package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/persistence/file"
	"github.com/dukex/signoff/pkg/services"
	"github.com/dukex/signoff/pkg/testutil"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedInstance(t *testing.T, store persistence.Persistence, instance *models.WorkflowInstance) *models.WorkflowInstance {
	t.Helper()

	if instance.CompletedAt == nil && instance.Status.IsTerminal() {
		completed := now
		instance.CompletedAt = &completed
	}

	require.NoError(t, store.InstanceRepository().Create(context.Background(), instance))

	return instance
}

func TestTemplate_CreateValidates(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	svc := services.NewTemplate(store, validator.New(), discardLogger())
	ctx := context.Background()

	tests := []struct {
		name     string
		template *models.WorkflowTemplate
	}{
		{
			name:     "no steps",
			template: testutil.CreateTestTemplate(testutil.WithSteps()),
		},
		{
			name: "gap in step numbers",
			template: testutil.CreateTestTemplate(testutil.WithSteps(
				testutil.Step(1, "supervisor", models.ContextBranch),
				testutil.Step(3, "manager", models.ContextOrganization),
			)),
		},
		{
			name: "unknown context",
			template: testutil.CreateTestTemplate(testutil.WithSteps(
				testutil.Step(1, "supervisor", models.ApproverContext("planet")),
			)),
		},
		{
			name: "all approval type",
			template: testutil.CreateTestTemplate(func(tmpl *models.WorkflowTemplate) {
				tmpl.Steps[0].ApprovalType = models.ApprovalAll
			}),
		},
		{
			name: "short name",
			template: testutil.CreateTestTemplate(func(tmpl *models.WorkflowTemplate) {
				tmpl.Name = "ab"
			}),
		},
		{
			name: "broken trigger schema",
			template: testutil.CreateTestTemplate(func(tmpl *models.WorkflowTemplate) {
				tmpl.TriggerConditions.Schema = map[string]any{"type": 12}
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.template)
			require.Error(t, err)
			assert.True(t, services.IsValidation(err), "got %v", err)
		})
	}
}

func TestTemplate_Lifecycle(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	svc := services.NewTemplate(store, validator.New(), discardLogger())
	ctx := context.Background()

	created, err := svc.Create(ctx, testutil.CreateTestTemplate())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	update := testutil.CreateTestTemplate(testutil.WithSteps(testutil.Step(1, "manager", models.ContextRegion)))
	updated, err := svc.Update(ctx, created.ID, update)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	fetched, err := svc.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, fetched.Steps, 1)

	_, err = svc.Update(ctx, "missing", testutil.CreateTestTemplate())
	assert.True(t, services.IsNotFound(err))

	active := seedInstance(t, store, &models.WorkflowInstance{
		TemplateID:       created.ID,
		ResourceType:     "inspection",
		ResourceID:       "r-1",
		Status:           models.StatusPending,
		CurrentStep:      1,
		CurrentApprovers: []string{"mgr-1"},
	})

	err = svc.Delete(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, services.IsConflict(err))

	finished := active.Clone()
	finished.Finish(models.StatusCancelled, now)
	require.NoError(t, store.InstanceRepository().Update(ctx, finished, active.Version))

	require.NoError(t, svc.Delete(ctx, created.ID))

	_, err = svc.FetchByID(ctx, created.ID)
	assert.True(t, services.IsNotFound(err))
}

func TestDelegation_Create(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	svc := services.NewDelegation(store, validator.New(), discardLogger()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := svc.Create(ctx, testutil.CreateTestDelegation("mgr-1", "mgr-1", now))
	require.Error(t, err)
	assert.True(t, services.IsValidation(err), "self delegation")

	_, err = svc.Create(ctx, testutil.CreateTestDelegation("mgr-1", "mgr-2", now, func(d *models.Delegation) {
		d.ValidFrom, d.ValidUntil = d.ValidUntil, d.ValidFrom
	}))
	require.Error(t, err)
	assert.True(t, services.IsValidation(err), "inverted window")

	expired, err := svc.Create(ctx, testutil.CreateTestDelegation("mgr-1", "mgr-2", now.Add(-72*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.DelegationExpired, expired.Status(now))

	listed, err := svc.List(ctx, persistence.ListDelegationsOptions{DelegatorUserID: "mgr-1"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDelegation_RevokeAndValidity(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	svc := services.NewDelegation(store, validator.New(), discardLogger()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	delegation, err := svc.Create(ctx, testutil.CreateTestDelegation("mgr-1", "mgr-2", now, func(d *models.Delegation) {
		d.WorkflowTypes = []string{"inspection"}
	}))
	require.NoError(t, err)

	validity, err := svc.Validity(ctx, delegation.ID, time.Time{}, "inspection")
	require.NoError(t, err)
	assert.True(t, validity.Effective)
	assert.Equal(t, models.DelegationActive, validity.Status)

	validity, err = svc.Validity(ctx, delegation.ID, now, "purchase")
	require.NoError(t, err)
	assert.False(t, validity.Effective)

	validity, err = svc.Validity(ctx, delegation.ID, delegation.ValidUntil, "inspection")
	require.NoError(t, err)
	assert.True(t, validity.Effective, "upper bound is inclusive")

	validity, err = svc.Validity(ctx, delegation.ID, now.Add(-24*time.Hour), "inspection")
	require.NoError(t, err)
	assert.Equal(t, models.DelegationScheduled, validity.Status)

	_, err = svc.Revoke(ctx, delegation.ID, "mgr-2")
	assert.True(t, services.IsForbidden(err))

	revoked, err := svc.Revoke(ctx, delegation.ID, "mgr-1")
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)

	_, err = svc.Revoke(ctx, delegation.ID, "mgr-1")
	assert.True(t, services.IsConflict(err))

	validity, err = svc.Validity(ctx, delegation.ID, now, "inspection")
	require.NoError(t, err)
	assert.Equal(t, models.DelegationRevoked, validity.Status)
	assert.False(t, validity.Effective)

	_, err = svc.Validity(ctx, "missing", now, "")
	assert.True(t, services.IsNotFound(err))
}

func TestInstance_Queries(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	svc := services.NewInstance(store)
	ctx := context.Background()

	seedInstance(t, store, &models.WorkflowInstance{
		TemplateID: "t-1", ResourceType: "inspection", ResourceID: "r-1",
		Status: models.StatusPending, CurrentStep: 1, CurrentApprovers: []string{"sup-b1", "deputy"},
	})
	seedInstance(t, store, &models.WorkflowInstance{
		TemplateID: "t-1", ResourceType: "inspection", ResourceID: "r-2",
		Status: models.StatusEscalated, CurrentStep: 1, CurrentApprovers: []string{"mgr-1"},
	})
	seedInstance(t, store, &models.WorkflowInstance{
		TemplateID: "t-2", ResourceType: "purchase", ResourceID: "p-1",
		Status: models.StatusApproved, CurrentStep: 2, CurrentApprovers: []string{"sup-b1"},
	})

	pending, err := svc.Pending(ctx, "sup-b1", 0, 0)
	require.NoError(t, err)
	require.Len(t, pending.Instances, 1)
	assert.Equal(t, "r-1", pending.Instances[0].ResourceID)

	pending, err = svc.Pending(ctx, "deputy", 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending.Instances, 1)

	page, err := svc.List(ctx, services.ListInstancesRequest{ResourceType: "inspection"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalCount)
	assert.Equal(t, persistence.DefaultPageSize, page.Limit)

	page, err = svc.List(ctx, services.ListInstancesRequest{Status: "approved"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.TotalCount)

	_, err = svc.List(ctx, services.ListInstancesRequest{Status: "bogus"})
	assert.True(t, services.IsValidation(err))

	_, err = svc.List(ctx, services.ListInstancesRequest{SortBy: "password"})
	assert.True(t, services.IsValidation(err))

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus[models.StatusEscalated])
	assert.EqualValues(t, 2, stats.ByResourceType["inspection"])

	_, err = svc.AuditTrail(ctx, "missing")
	assert.True(t, services.IsNotFound(err))

	message, healthy := svc.HealthCheck(ctx)
	assert.True(t, healthy, message)
}
