package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/signoff/pkg/cmd"
	"github.com/dukex/signoff/pkg/escalation"
	"github.com/dukex/signoff/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultInterval = 5 * time.Minute
	defaultLockTTL  = 2 * time.Minute
)

func main() {
	command := &cli.Command{
		Name:                  "signoff-escalator",
		Usage:                 "Escalate approval steps that exceeded their timeout",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "escalation-interval",
				Usage:   "Time between escalation ticks",
				Value:   defaultInterval,
				Sources: cli.EnvVars("ESCALATION_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "lock-ttl",
				Usage:   "Expiry of the Redis tick lock; must outlast the longest tick",
				Value:   defaultLockTTL,
				Sources: cli.EnvVars("ESCALATION_LOCK_TTL"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single tick and exit",
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics; 0 disables it",
				Value:   9092,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String(cmd.FlagLogLevel), command.String(cmd.FlagLogFormat))

			logger := log.WithModule("escalator")
			logger.InfoContext(ctx, "Initializing Signoff escalator")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.Bootstrap(ctx, command, "signoff-escalator", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.WithoutCancel(ctx))

			opts := []escalation.Option{
				escalation.WithPublisher(runtime.EventBus),
				escalation.WithMetrics(runtime.Metrics),
			}

			if runtime.Redis != nil {
				lock := escalation.NewRedisTickLock(runtime.Redis, escalation.DefaultLockKey, command.Duration("lock-ttl"), logger)
				opts = append(opts, escalation.WithTickLock(lock))
			}

			scheduler := escalation.NewScheduler(runtime.Persistence, runtime.Engine, command.Duration("escalation-interval"), logger, opts...)
			service := NewService(scheduler, runtime.Metrics.Registry, command.Int("metrics-port"), logger)

			if command.Bool("once") {
				return service.RunOnce(ctx)
			}

			return service.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("escalator").Error("signoff-escalator exited", "error", err)
		os.Exit(1)
	}
}
