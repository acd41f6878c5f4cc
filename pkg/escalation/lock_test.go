package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/escalation"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisTickLock(t *testing.T) {
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

	first := escalation.NewRedisTickLock(client, "", time.Minute, testLogger())
	second := escalation.NewRedisTickLock(client, "", time.Minute, testLogger())

	release, acquired, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	release()

	releaseSecond, acquired, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	releaseSecond()
}
