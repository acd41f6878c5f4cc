package resourcesync_test

import (
	"context"
	"testing"

	"github.com/dukex/signoff/pkg/resourcesync"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisStatusCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	cache := resourcesync.NewRedisStatusCache(client)

	status, err := cache.Get(ctx, "inspection:r-1")
	require.NoError(t, err)
	assert.Empty(t, status)

	require.NoError(t, cache.Set(ctx, "inspection:r-1", resourcesync.StatusApproved))

	status, err = cache.Get(ctx, "inspection:r-1")
	require.NoError(t, err)
	assert.Equal(t, resourcesync.StatusApproved, status)
}

func TestRedisWatermark(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	watermark := resourcesync.NewRedisWatermark(client)
	created := int64(1741597200000000)

	steps := []struct {
		mark resourcesync.Mark
		want bool
	}{
		{resourcesync.Mark{CreatedAt: created, InstanceID: "wf-1", Version: 3}, true},
		{resourcesync.Mark{CreatedAt: created, InstanceID: "wf-1", Version: 2}, false},
		{resourcesync.Mark{CreatedAt: created, InstanceID: "wf-1", Version: 3}, true},
		{resourcesync.Mark{CreatedAt: created - 1, InstanceID: "wf-9", Version: 9}, false},
		{resourcesync.Mark{CreatedAt: created + 1, InstanceID: "wf-2", Version: 1}, true},
		{resourcesync.Mark{CreatedAt: created, InstanceID: "wf-1", Version: 4}, false},
	}

	for i, step := range steps {
		current, err := watermark.Advance(ctx, "inspection:r-1", step.mark)
		require.NoError(t, err)
		assert.Equal(t, step.want, current, "step %d", i)
	}
}
