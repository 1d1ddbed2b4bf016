package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/99scratch/WALKOFF/pkg/log"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the dispatcher, its workers and the control API",
		Flags: []cli.Flag{
			databaseFlag(true),
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Dispatcher to worker transport (gochannel runs workers in process, kafka spawns worker processes)",
				Value:   "gochannel",
				Sources: cli.EnvVars("TRANSPORT_TYPE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Execution event bus (gochannel, kafka, kafka-go)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "worker-binary",
				Usage:   "Worker executable spawned for each worker when the transport is kafka",
				Value:   "walkoff-worker",
				Sources: cli.EnvVars("WORKER_BINARY"),
			},
			workersFlag(),
			&cli.IntFlag{
				Name:    "api-port",
				Aliases: []string{"p"},
				Usage:   "Port to run the control API on, 0 disables it",
				Value:   defaultAPIPort,
				Sources: cli.EnvVars("API_PORT"),
			},
			pluginsFlag(),
			tracingFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule(serviceName)

			logger.InfoContext(ctx, "Initializing WALKOFF Dispatcher")

			opts := options{
				DatabaseURL:  command.String("database-url"),
				Transport:    command.String("transport"),
				EventBus:     command.String("event-bus"),
				KafkaBrokers: command.String("kafka-brokers"),
				PluginsPath:  command.String("plugins-path"),
				LogLevel:     command.String("log-level"),
				WorkerBinary: command.String("worker-binary"),
				Workers:      int(command.Int("workers")),
				Tracing:      command.Bool("tracing"),
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			n := newNode(ctx, logger, opts)
			defer n.close(context.WithoutCancel(ctx))

			group, groupCtx := errgroup.WithContext(ctx)

			err := n.start(groupCtx, group.Go)
			if err != nil {
				cancel()
				_ = group.Wait()

				return err
			}

			var api *API

			port := int(command.Int("api-port"))
			if port > 0 {
				api = NewAPI(logger, n.persistence, n.registry, n.dispatcher)

				group.Go(func() error {
					return api.Start(port)
				})
			}

			group.Go(func() error {
				signals := make(chan os.Signal, 1)
				signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(signals)

				select {
				case sig := <-signals:
					logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
				case <-groupCtx.Done():
				}

				shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
				defer stop()

				err := n.dispatcher.Exit(shutdownCtx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to stop workers", "error", err)
				}

				if api != nil {
					err = api.Shutdown(shutdownCtx)
					if err != nil {
						logger.ErrorContext(ctx, "Failed to stop API", "error", err)
					}
				}

				cancel()

				return nil
			})

			return group.Wait()
		},
	}
}
