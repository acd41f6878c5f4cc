package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence/file"
	"github.com/dukex/signoff/pkg/resourcesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"postgres://user@localhost/signoff": "postgres",
		"postgresql://localhost/signoff":    "postgresql",
		"file:///var/lib/signoff":           "file",
		"./data":                            "file",
	}

	for url, want := range tests {
		assert.Equal(t, want, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	p, err := NewPersistence(context.Background(), discardLogger(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	_, err = NewPersistence(context.Background(), discardLogger(), "mongodb://localhost")
	assert.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", "signoff-test", discardLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("rabbitmq", "", "signoff-test", discardLogger())
	assert.Error(t, err)

	_, err = NewEventBus("kafka", "", "signoff-test", discardLogger())
	assert.Error(t, err)
}

func TestNewRedisClient_Disabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &resourcesync.MemoryStatusCache{}, NewStatusCache(client))
	assert.IsType(t, &resourcesync.MemoryWatermark{}, NewWatermark(client))

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNewPermissions_AssignsDirectoryRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - id: sup-b1
    roles: [supervisor]
    organization: acme
    branch: b1
`), 0o600))

	dir, err := NewDirectory(path)
	require.NoError(t, err)

	checker, err := NewPermissions(dir, "")
	require.NoError(t, err)
	require.NoError(t, checker.GrantRole("supervisor", models.CapabilityApprove))

	ok, err := checker.HasCapability(context.Background(), "sup-b1", models.CapabilityApprove)
	require.NoError(t, err)
	assert.True(t, ok)

	empty, err := NewDirectory("")
	require.NoError(t, err)
	assert.Empty(t, empty.Users())
}
