package resourcesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// StatusCache remembers the last status written for each resource.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, status string) error
}

func cacheKey(resource models.ResourceRef) string {
	return resource.Type + ":" + resource.ID
}

// EventBusStore hands status changes to resource owners as resource.status_changed events.
type EventBusStore struct {
	publisher eventbus.EventPublisher
	cache     StatusCache
}

func NewEventBusStore(publisher eventbus.EventPublisher, cache StatusCache) *EventBusStore {
	return &EventBusStore{publisher: publisher, cache: cache}
}

func (s *EventBusStore) ResourceStatus(ctx context.Context, resource models.ResourceRef) (string, error) {
	return s.cache.Get(ctx, cacheKey(resource))
}

func (s *EventBusStore) SetResourceStatus(ctx context.Context, resource models.ResourceRef, status string) error {
	key := cacheKey(resource)

	previous, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}

	event := events.ResourceStatusChanged{
		BaseEvent:      events.NewBaseEvent(s.publisher.GenerateID(), events.ResourceStatusChangedEvent),
		ResourceType:   resource.Type,
		ResourceID:     resource.ID,
		Status:         status,
		PreviousStatus: previous,
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		return err
	}

	return s.cache.Set(ctx, key, status)
}

// Remember records a status reported by the resource owner without publishing.
func (s *EventBusStore) Remember(ctx context.Context, resource models.ResourceRef, status string) error {
	return s.cache.Set(ctx, cacheKey(resource), status)
}

// MemoryStatusCache is a process-local StatusCache.
type MemoryStatusCache struct {
	mu       sync.RWMutex
	statuses map[string]string
}

func NewMemoryStatusCache() *MemoryStatusCache {
	return &MemoryStatusCache{statuses: make(map[string]string)}
}

func (c *MemoryStatusCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.statuses[key], nil
}

func (c *MemoryStatusCache) Set(_ context.Context, key, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[key] = status

	return nil
}

const redisKeyPrefix = "signoff:resource-status:"

// RedisStatusCache shares the last known statuses between replicas.
type RedisStatusCache struct {
	client *redis.Client
}

func NewRedisStatusCache(client *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Get(ctx context.Context, key string) (string, error) {
	status, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to read status of %s: %w", key, err)
	}

	return status, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, key, status string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, status, 0).Err(); err != nil {
		return fmt.Errorf("failed to store status of %s: %w", key, err)
	}

	return nil
}
