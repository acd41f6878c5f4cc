package cmd

import (
	cli "github.com/urfave/cli/v3"
)

const (
	FlagDatabaseURL   = "database-url"
	FlagEventBus      = "event-bus"
	FlagKafkaBrokers  = "kafka-brokers"
	FlagRedisURL      = "redis-url"
	FlagDirectoryFile = "directory-file"
	FlagPolicyFile    = "policy-file"
	FlagLogLevel      = "log-level"
	FlagLogFormat     = "log-format"
	FlagTracing       = "tracing"
)

// CommonFlags are shared by every signoff binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     FlagDatabaseURL,
			Usage:    "Database connection URL for persistence (postgres://... or a directory path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    FlagEventBus,
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    FlagKafkaBrokers,
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    FlagRedisURL,
			Usage:   "Redis URL for the resource status cache and the escalation lock",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    FlagDirectoryFile,
			Usage:   "YAML file with users, roles and resource placement",
			Sources: cli.EnvVars("DIRECTORY_FILE"),
		},
		&cli.StringFlag{
			Name:    FlagPolicyFile,
			Usage:   "Casbin CSV policy file with capability grants",
			Sources: cli.EnvVars("POLICY_FILE"),
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    FlagLogFormat,
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    FlagTracing,
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}
