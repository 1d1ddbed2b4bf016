// Package main provides the WALKOFF worker process: it receives executions
// from the dispatcher and runs them one at a time.
package main

import (
	"context"
	"os"

	"github.com/99scratch/WALKOFF/pkg/channels/kafka"
	"github.com/99scratch/WALKOFF/pkg/cmd"
	"github.com/99scratch/WALKOFF/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "walkoff-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes workflows for the dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Dispatcher transport (kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("TRANSPORT_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing app plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("walkoff-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing WALKOFF Worker")

			tracer, shutdownTracer := cmd.NewTracer(ctx, logger, "walkoff-worker", command.Bool("tracing"))
			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			transport := cmd.NewTransport(
				command.String("transport"),
				kafka.ParseBrokers(command.String("kafka-brokers")),
				"walkoff-"+workerID,
				logger,
			)
			defer func() {
				err := transport.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close transport", "error", err)
				}
			}()

			return runWorker(ctx, logger, workerConfig(workerID, registry, persistence, tracer), transport)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
