package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/signoff/pkg/cmd"
	"github.com/dukex/signoff/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "signoff-activator",
		Usage:                 "Start approval workflows from resource completion events",
		EnableShellCompletion: true,
		Flags:                 cmd.CommonFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String(cmd.FlagLogLevel), command.String(cmd.FlagLogFormat))

			logger := log.WithModule("activator")
			logger.InfoContext(ctx, "Initializing Signoff activator")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.Bootstrap(ctx, command, "signoff-activator", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.WithoutCancel(ctx))

			return NewActivator(
				runtime.EventBus,
				runtime.Engine,
				runtime.StatusStore,
				runtime.Persistence.InstanceRepository(),
				logger,
			).Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("activator").Error("signoff-activator exited", "error", err)
		os.Exit(1)
	}
}
