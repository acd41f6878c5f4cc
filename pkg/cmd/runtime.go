package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/directory"
	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/otelhelper"
	"github.com/dukex/signoff/pkg/permissions"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/resourcesync"
	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// Runtime holds the collaborators built from CommonFlags.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Redis       *redis.Client
	Directory   *directory.Directory
	Checker     *permissions.CasbinChecker
	Metrics     *metrics.Recorder
	StatusStore *resourcesync.EventBusStore
	Engine      *engine.Engine

	shutdownTracer func(context.Context) error
	logger         *slog.Logger
}

// Bootstrap builds the runtime. On error everything opened so far is closed.
func Bootstrap(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger, Metrics: metrics.New()}

	if err := rt.open(ctx, command, serviceName); err != nil {
		rt.Close(ctx)

		return nil, err
	}

	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, command *cli.Command, serviceName string) error {
	var tracer trace.Tracer

	if command.Bool(FlagTracing) {
		t, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		tracer = t
		rt.shutdownTracer = shutdown
	}

	var err error

	rt.Persistence, err = NewPersistence(ctx, rt.logger, command.String(FlagDatabaseURL))
	if err != nil {
		return err
	}

	rt.EventBus, err = NewEventBus(command.String(FlagEventBus), command.String(FlagKafkaBrokers), serviceName, rt.logger)
	if err != nil {
		return err
	}

	rt.Redis, err = NewRedisClient(ctx, command.String(FlagRedisURL))
	if err != nil {
		return err
	}

	rt.Directory, err = NewDirectory(command.String(FlagDirectoryFile))
	if err != nil {
		return err
	}

	rt.Checker, err = NewPermissions(rt.Directory, command.String(FlagPolicyFile))
	if err != nil {
		return err
	}

	rt.StatusStore = resourcesync.NewEventBusStore(rt.EventBus, NewStatusCache(rt.Redis))

	rt.Engine = NewEngine(EngineDeps{
		Persistence: rt.Persistence,
		Directory:   rt.Directory,
		Checker:     rt.Checker,
		EventBus:    rt.EventBus,
		StatusStore: rt.StatusStore,
		Watermark:   NewWatermark(rt.Redis),
		Metrics:     rt.Metrics,
		Tracer:      tracer,
	}, rt.logger)

	return nil
}

// Close releases everything Bootstrap opened, logging failures.
func (rt *Runtime) Close(ctx context.Context) {
	var errs []error

	if rt.EventBus != nil {
		errs = append(errs, rt.EventBus.Close())
	}

	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}

	if rt.Persistence != nil {
		errs = append(errs, rt.Persistence.Close(ctx))
	}

	if rt.shutdownTracer != nil {
		errs = append(errs, rt.shutdownTracer(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
