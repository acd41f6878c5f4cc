package resourcesync

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dukex/signoff/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// Mark orders the pushes made for one resource: instances by creation, then by
// instance id, then by version.
type Mark struct {
	CreatedAt  int64 // unix microseconds
	InstanceID string
	Version    int64
}

func MarkOf(instance *models.WorkflowInstance) Mark {
	return Mark{
		CreatedAt:  instance.CreatedAt.UnixMicro(),
		InstanceID: instance.ID,
		Version:    instance.Version,
	}
}

// Before reports whether m is older than other.
func (m Mark) Before(other Mark) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}

	if m.InstanceID != other.InstanceID {
		return m.InstanceID < other.InstanceID
	}

	return m.Version < other.Version
}

// Watermark remembers the newest mark pushed for each resource.
type Watermark interface {
	// Advance stores mark unless a newer one is stored, and reports whether mark is current.
	// An equal mark is current, so replaying a push is allowed.
	Advance(ctx context.Context, key string, mark Mark) (bool, error)
}

// MemoryWatermark is a process-local Watermark.
type MemoryWatermark struct {
	mu    sync.Mutex
	marks map[string]Mark
}

func NewMemoryWatermark() *MemoryWatermark {
	return &MemoryWatermark{marks: make(map[string]Mark)}
}

func (w *MemoryWatermark) Advance(_ context.Context, key string, mark Mark) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if stored, ok := w.marks[key]; ok && mark.Before(stored) {
		return false, nil
	}

	w.marks[key] = mark

	return true, nil
}

const redisMarkPrefix = "signoff:resource-mark:"

var advanceScript = redis.NewScript(`
local stored = redis.call("HMGET", KEYS[1], "created", "id", "version")
if stored[1] then
	local created, incoming = tonumber(stored[1]), tonumber(ARGV[1])
	if incoming < created then
		return 0
	end
	if incoming == created then
		if ARGV[2] < stored[2] then
			return 0
		end
		if ARGV[2] == stored[2] and tonumber(ARGV[3]) < tonumber(stored[3]) then
			return 0
		end
	end
end
redis.call("HSET", KEYS[1], "created", ARGV[1], "id", ARGV[2], "version", ARGV[3])
return 1
`)

// RedisWatermark shares marks between replicas. The compare and the store run as one script.
type RedisWatermark struct {
	client *redis.Client
}

func NewRedisWatermark(client *redis.Client) *RedisWatermark {
	return &RedisWatermark{client: client}
}

func (w *RedisWatermark) Advance(ctx context.Context, key string, mark Mark) (bool, error) {
	current, err := advanceScript.Run(ctx, w.client, []string{redisMarkPrefix + key},
		mark.CreatedAt, mark.InstanceID, mark.Version).Int()
	if err != nil {
		return false, fmt.Errorf("failed to advance push mark of %s: %w", key, err)
	}

	return current == 1, nil
}

// keyedLocks serializes pushes per resource inside one process.
type keyedLocks [64]sync.Mutex

func (l *keyedLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()

	return mu.Unlock
}
