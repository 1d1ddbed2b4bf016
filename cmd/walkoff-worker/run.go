package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/validation"
	"github.com/99scratch/WALKOFF/pkg/worker"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

func workerConfig(id string, registry *registry.Registry, persistence persistence.Persistence, tracer trace.Tracer) worker.Config {
	return worker.Config{
		ID:        id,
		Resolver:  registry,
		Validator: validation.New(),
		Instances: registry,
		Workflows: workflow.NewRepository(persistence),
		Tracer:    tracer,
	}
}

// runWorker runs the worker until it is told to exit or the process receives
// SIGINT or SIGTERM.
func runWorker(ctx context.Context, logger *slog.Logger, config worker.Config, transport worker.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.InfoContext(ctx, "Shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	w := worker.New(config, transport, logger)

	err := w.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Worker stopped with error", "error", err)

		return err
	}

	return nil
}
