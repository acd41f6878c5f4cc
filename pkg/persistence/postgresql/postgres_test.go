package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"audit_entries", "delegations", "workflow_instances", "workflow_templates", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("signoff_test"),
			postgres.WithUsername("signoff"),
			postgres.WithPassword("signoff"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func sampleTemplate() *models.WorkflowTemplate {
	timeout := 24

	return &models.WorkflowTemplate{
		Name:              "Inspection sign-off",
		ResourceType:      "inspection",
		TriggerConditions: models.TriggerConditions{Match: map[string]any{"requires_approval": "true"}},
		NotifyOnStart:     true,
		Steps: []models.Step{
			{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: models.ContextBranch, TimeoutHours: &timeout, EscalateToRole: "manager"},
			{StepNumber: 2, Name: "sign", ApproverRole: "manager", ApproverContext: models.ContextOrganization},
		},
	}
}

func sampleInstance(templateID, resourceID string) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		TemplateID:             templateID,
		ResourceType:           "inspection",
		ResourceID:             resourceID,
		ResourceName:           "Kitchen inspection",
		Status:                 models.StatusPending,
		CurrentStep:            1,
		CurrentApprovers:       []string{"sup-1", "sup-2"},
		StepsCompleted:         []models.StepAction{},
		PreviousResourceStatus: "completed",
		StepStartedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_templates", "workflow_instances", "delegations", "audit_entries"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestTemplateRepository_RoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.TemplateRepository()

	tmpl := sampleTemplate()
	require.NoError(t, repo.Save(ctx, tmpl))

	got, err := repo.GetByID(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Name, got.Name)
	assert.Equal(t, "true", got.TriggerConditions.Match["requires_approval"])
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "manager", got.Steps[0].EscalateToRole)

	// whole step sequence is replaced on update
	got.Steps = got.Steps[:1]
	require.NoError(t, repo.Save(ctx, got))

	updated, err := repo.GetByID(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Len(t, updated.Steps, 1)

	byType, err := repo.ListByResourceType(ctx, "inspection")
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	require.NoError(t, repo.Delete(ctx, tmpl.ID))

	_, err = repo.GetByID(ctx, tmpl.ID)
	assert.ErrorIs(t, err, persistence.ErrTemplateNotFound)
}

func TestInstanceRepository_ActiveUniqueness(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.InstanceRepository()

	first := sampleInstance("tmpl-1", "r-1")
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, sampleInstance("tmpl-1", "r-1"))
	assert.ErrorIs(t, err, persistence.ErrActiveInstanceExists)

	first.Finish(models.StatusCancelled, time.Now().UTC())
	require.NoError(t, repo.Update(ctx, first, first.Version))

	require.NoError(t, repo.Create(ctx, sampleInstance("tmpl-1", "r-1")))
}

func TestInstanceRepository_ConditionalUpdate(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.InstanceRepository()

	inst := sampleInstance("tmpl-1", "r-1")
	require.NoError(t, repo.Create(ctx, inst))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			candidate := inst.Clone()
			candidate.CurrentStep = 2
			candidate.Status = models.StatusInProgress
			candidate.CurrentApprovers = []string{"mgr-1"}

			err := repo.Update(ctx, candidate, 1)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case persistence.IsVersionConflict(err):
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 4, conflicts)

	stored, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, []string{"mgr-1"}, stored.CurrentApprovers)

	missing := sampleInstance("tmpl-1", "r-2")
	missing.ID = "does-not-exist"
	assert.ErrorIs(t, repo.Update(ctx, missing, 1), persistence.ErrInstanceNotFound)
}

func TestInstanceRepository_ListAndStatistics(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.InstanceRepository()

	for _, id := range []string{"r-1", "r-2", "r-3"} {
		require.NoError(t, repo.Create(ctx, sampleInstance("tmpl-1", id)))
	}

	task := sampleInstance("tmpl-2", "t-1")
	task.ResourceType = "task"
	task.CurrentApprovers = []string{"mgr-9"}
	require.NoError(t, repo.Create(ctx, task))

	page, err := repo.List(ctx, persistence.ListInstancesOptions{ResourceType: "inspection", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)
	assert.Len(t, page.Instances, 2)

	mine, err := repo.List(ctx, persistence.ListInstancesOptions{Approver: "mgr-9"})
	require.NoError(t, err)
	require.Len(t, mine.Instances, 1)
	assert.Equal(t, "t-1", mine.Instances[0].ResourceID)

	active, err := repo.ActiveForResource(ctx, "task", "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, active.ID)

	count, err := repo.CountActiveByTemplate(ctx, "tmpl-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stats, err := repo.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(4), stats.ByStatus[models.StatusPending])
	assert.Equal(t, int64(1), stats.ByResourceType["task"])
}

func TestDelegationRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.DelegationRepository()
	now := time.Now().UTC()

	delegation := &models.Delegation{
		DelegatorUserID:  "alice",
		DelegateToUserID: "bob",
		ValidFrom:        now.Add(-time.Hour),
		ValidUntil:       now.Add(time.Hour),
		WorkflowTypes:    []string{"inspection"},
	}
	require.NoError(t, repo.Save(ctx, delegation))

	found, err := repo.ListByDelegators(ctx, []string{"alice"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []string{"inspection"}, found[0].WorkflowTypes)

	revoked, err := repo.Revoke(ctx, delegation.ID, "admin", now)
	require.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)

	_, err = repo.Revoke(ctx, delegation.ID, "admin", now)
	assert.ErrorIs(t, err, persistence.ErrDelegationRevoked)

	_, err = repo.Revoke(ctx, "missing", "admin", now)
	assert.ErrorIs(t, err, persistence.ErrDelegationNotFound)

	found, err = repo.ListByDelegators(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestAuditRepository_Order(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.AuditRepository()
	now := time.Now().UTC()

	for _, action := range []models.Action{models.ActionStart, models.ActionApprove, models.ActionApprove} {
		require.NoError(t, repo.Append(ctx, &models.AuditEntry{
			InstanceID: "wf-1",
			Action:     action,
			Actor:      "sup-1",
			StepNumber: 1,
			ToStatus:   models.StatusInProgress,
			Timestamp:  now,
		}))
	}

	entries, err := repo.ListByInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ActionStart, entries[0].Action)
}
