package audit

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_RecordsEverywhere(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	sink := Fanout{NewRepositorySink(store.AuditRepository()), NewLogSink(logger)}

	require.NoError(t, sink.Record(ctx, models.AuditEntry{
		InstanceID: "wf-1", Action: models.ActionApprove, Actor: "sup-1",
		StepNumber: 1, FromStatus: models.StatusPending, ToStatus: models.StatusInProgress, Timestamp: time.Now(),
	}))
	require.NoError(t, sink.Record(ctx, models.AuditEntry{
		InstanceID: "wf-1", Action: models.ActionApprove, Actor: "mgr-1",
		StepNumber: 2, FromStatus: models.StatusInProgress, ToStatus: models.StatusApproved, Timestamp: time.Now(),
	}))

	entries, err := store.AuditRepository().ListByInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sup-1", entries[0].Actor)
	assert.Equal(t, models.StatusApproved, entries[1].ToStatus)
	assert.NotEmpty(t, entries[0].ID)
}
