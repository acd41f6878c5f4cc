// Package resourcesync mirrors instance status onto the owning resource.
package resourcesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/models"
	"github.com/sony/gobreaker"
)

// Resource statuses written by the synchronizer.
const (
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
)

// ResourceStore reads and writes the status of a resource it owns.
// ResourceStatus returns an empty string for a resource with no known status.
type ResourceStore interface {
	ResourceStatus(ctx context.Context, resource models.ResourceRef) (string, error)
	SetResourceStatus(ctx context.Context, resource models.ResourceRef, status string) error
}

// TargetStatus maps an instance status onto the resource status it implies.
// A cancelled instance restores the status captured when it was created; ok is
// false when there is nothing to restore.
func TargetStatus(instance *models.WorkflowInstance) (status string, ok bool) {
	switch instance.Status {
	case models.StatusPending, models.StatusInProgress, models.StatusEscalated:
		return StatusPendingApproval, true
	case models.StatusApproved:
		return StatusApproved, true
	case models.StatusRejected:
		return StatusRejected, true
	case models.StatusCancelled:
		return instance.PreviousResourceStatus, instance.PreviousResourceStatus != ""
	default:
		return "", false
	}
}

// Synchronizer pushes status with bounded retries behind a circuit breaker.
type Synchronizer struct {
	store     ResourceStore
	watermark Watermark
	locks     keyedLocks
	breaker  *gobreaker.CircuitBreaker
	metrics  *metrics.Recorder
	logger   *slog.Logger
	retries  uint64
	interval time.Duration
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithRetry sets the retry count and initial backoff interval.
func WithRetry(retries uint64, initial time.Duration) Option {
	return func(s *Synchronizer) {
		s.retries = retries
		s.interval = initial
	}
}

// WithWatermark shares push ordering through w, e.g. a RedisWatermark across replicas.
func WithWatermark(w Watermark) Option {
	return func(s *Synchronizer) {
		s.watermark = w
	}
}

// WithMetrics records push results on recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Synchronizer) {
		s.metrics = recorder
	}
}

func NewSynchronizer(store ResourceStore, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		watermark: NewMemoryWatermark(),
		logger:    logger.With("module", "resourcesync"),
		retries:   4,
		interval:  200 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "resource-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return s
}

// Push writes the status implied by instance. It is idempotent: when the resource
// already holds the target status nothing is written. Pushes for one resource are
// ordered by Mark, and a snapshot older than one already pushed is dropped.
func (s *Synchronizer) Push(ctx context.Context, instance *models.WorkflowInstance) error {
	resource := models.ResourceRef{Type: instance.ResourceType, ID: instance.ResourceID, Name: instance.ResourceName}
	key := cacheKey(resource)

	unlock := s.locks.lock(key)
	defer unlock()

	current, err := s.watermark.Advance(ctx, key, MarkOf(instance))
	if err != nil {
		s.metrics.SyncFailure(instance.ResourceType)

		return fmt.Errorf("failed to order status push for %s: %w", key, err)
	}

	if !current {
		s.metrics.SyncPush("stale")
		s.logger.DebugContext(ctx, "dropping stale status push",
			"instance_id", instance.ID,
			"version", instance.Version,
			"status", instance.Status,
		)

		return nil
	}

	target, ok := TargetStatus(instance)
	if !ok {
		s.logger.DebugContext(ctx, "no resource status to push", "instance_id", instance.ID, "status", instance.Status)

		return nil
	}

	written := false

	operation := func() error {
		_, err := s.breaker.Execute(func() (any, error) {
			current, err := s.store.ResourceStatus(ctx, resource)
			if err != nil {
				return nil, err
			}

			if current == target {
				return nil, nil
			}

			if err := s.store.SetResourceStatus(ctx, resource, target); err != nil {
				return nil, err
			}

			written = true

			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.interval
	policy.MaxInterval = 5 * time.Second

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.retries), ctx))
	if err != nil {
		s.metrics.SyncFailure(instance.ResourceType)
		s.logger.ErrorContext(ctx, "failed to push resource status",
			"instance_id", instance.ID,
			"resource_type", instance.ResourceType,
			"resource_id", instance.ResourceID,
			"target", target,
			"error", err,
		)

		return fmt.Errorf("failed to set %s/%s to %s: %w", instance.ResourceType, instance.ResourceID, target, err)
	}

	if written {
		s.metrics.SyncPush("written")
	} else {
		s.metrics.SyncPush("unchanged")
	}

	return nil
}
