package main

import (
	"time"

	cli "github.com/urfave/cli/v3"
)

const (
	defaultAPIPort         = 9091
	defaultWorkers         = 4
	defaultShutdownTimeout = 30 * time.Second
)

func databaseFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence (file://, postgres://, redis://)",
		Value:    "file://./data",
		Required: required,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func pluginsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "plugins-path",
		Usage:    "Path to the directory containing app plugins",
		Value:    "./plugins",
		Required: false,
		Sources:  cli.EnvVars("PLUGINS_PATH"),
	}
}

func logLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func workersFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "workers",
		Aliases: []string{"w"},
		Usage:   "Number of workers to start",
		Value:   defaultWorkers,
		Sources: cli.EnvVars("WORKER_COUNT"),
	}
}

func tracingFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "tracing",
		Usage:   "Export traces over OTLP/HTTP",
		Value:   false,
		Sources: cli.EnvVars("TRACING_ENABLED"),
	}
}
