package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/audit"
	"github.com/dukex/signoff/pkg/directory"
	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/notify"
	"github.com/dukex/signoff/pkg/permissions"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/resolver"
	"github.com/dukex/signoff/pkg/resourcesync"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// NewDirectory loads the YAML directory, or returns an empty one when path is empty.
func NewDirectory(path string) (*directory.Directory, error) {
	if path == "" {
		return directory.New(), nil
	}

	return directory.Load(path)
}

// NewPermissions creates the capability checker and assigns every directory role to its users.
func NewPermissions(dir *directory.Directory, policyFile string) (*permissions.CasbinChecker, error) {
	checker, err := permissions.NewCasbinChecker(policyFile)
	if err != nil {
		return nil, err
	}

	for _, user := range dir.Users() {
		for _, role := range user.Roles {
			if err := checker.AssignRole(user.ID, role); err != nil {
				return nil, fmt.Errorf("failed to assign role %s to %s: %w", role, user.ID, err)
			}
		}
	}

	return checker, nil
}

// NewStatusCache uses Redis when a client is configured, memory otherwise.
func NewStatusCache(client *redis.Client) resourcesync.StatusCache {
	if client == nil {
		return resourcesync.NewMemoryStatusCache()
	}

	return resourcesync.NewRedisStatusCache(client)
}

// NewWatermark orders status pushes across replicas when Redis is configured.
func NewWatermark(client *redis.Client) resourcesync.Watermark {
	if client == nil {
		return resourcesync.NewMemoryWatermark()
	}

	return resourcesync.NewRedisWatermark(client)
}

// EngineDeps are the collaborators shared by every binary that runs transitions.
type EngineDeps struct {
	Persistence persistence.Persistence
	Directory   *directory.Directory
	Checker     permissions.PermissionChecker
	EventBus    eventbus.EventBus
	StatusStore *resourcesync.EventBusStore
	Watermark   resourcesync.Watermark
	Metrics     *metrics.Recorder
	Tracer      trace.Tracer
}

// NewEngine wires the engine with the directory resolver, casbin gate, audit fanout,
// event bus notifications and the resource status synchronizer.
func NewEngine(deps EngineDeps, logger *slog.Logger) *engine.Engine {
	approvers := resolver.New(deps.Directory, deps.Directory, deps.Persistence.DelegationRepository(), logger)

	syncOpts := []resourcesync.Option{resourcesync.WithMetrics(deps.Metrics)}
	if deps.Watermark != nil {
		syncOpts = append(syncOpts, resourcesync.WithWatermark(deps.Watermark))
	}

	sinks := audit.Fanout{
		audit.NewRepositorySink(deps.Persistence.AuditRepository()),
		audit.NewLogSink(logger),
	}

	opts := []engine.Option{
		engine.WithAuditSink(sinks),
		engine.WithStatusPusher(resourcesync.NewSynchronizer(deps.StatusStore, logger, syncOpts...)),
		engine.WithNotifier(notify.Fanout{
			notify.NewEventBusNotifier(deps.EventBus, deps.Metrics, logger),
			notify.NewLogNotifier(logger),
		}),
		engine.WithMetrics(deps.Metrics),
	}

	if deps.Tracer != nil {
		opts = append(opts, engine.WithTracer(deps.Tracer))
	}

	return engine.New(deps.Persistence, approvers, permissions.NewGate(deps.Checker, logger), logger, opts...)
}
