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

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "signoff-api",
		Usage:                 "Serve the approval workflow API",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.CommonFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String(cmd.FlagLogLevel), command.String(cmd.FlagLogFormat))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Signoff API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := cmd.Bootstrap(ctx, command, "signoff-api", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.WithoutCancel(ctx))

			api := NewAPI(logger, runtime.Persistence, runtime.Engine, runtime.Metrics.Registry)

			return api.Start(ctx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("api").Error("signoff-api exited", "error", err)
		os.Exit(1)
	}
}
