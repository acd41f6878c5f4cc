package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const DefaultLockKey = "signoff:escalation:tick"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisTickLock is a SET NX PX lock released only by its holder.
type RedisTickLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTickLock creates a lock. ttl must outlast the longest expected tick.
func NewRedisTickLock(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RedisTickLock {
	if key == "" {
		key = DefaultLockKey
	}

	return &RedisTickLock{client: client, key: key, ttl: ttl, logger: logger.With("module", "escalation_lock")}
}

func (l *RedisTickLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set %s: %w", l.key, err)
	}

	if !acquired {
		return nil, false, nil
	}

	release := func() {
		released, err := releaseScript.Run(context.Background(), l.client, []string{l.key}, token).Int()
		if err != nil {
			l.logger.Warn("failed to release tick lock", "key", l.key, "error", err)

			return
		}

		if released == 0 {
			l.logger.Warn("tick lock expired before release", "key", l.key)
		}
	}

	return release, true, nil
}
