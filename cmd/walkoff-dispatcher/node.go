package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/99scratch/WALKOFF/pkg/channels/kafka"
	"github.com/99scratch/WALKOFF/pkg/cmd"
	"github.com/99scratch/WALKOFF/pkg/dispatcher"
	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/otelhelper"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/receiver"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/validation"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/99scratch/WALKOFF/pkg/worker"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "walkoff-dispatcher"

type options struct {
	DatabaseURL  string
	Transport    string
	EventBus     string
	KafkaBrokers string
	PluginsPath  string
	LogLevel     string
	WorkerBinary string
	Workers      int
	Tracing      bool
}

// workerGroup starts the workers a dispatcher hands executions to.
type workerGroup interface {
	dispatcher.Shutdowner
	Start(ctx context.Context) ([]string, error)
	OnExit(fn func(workerID string, err error))
}

// node is one dispatcher process: persistence, transport, event bus, results
// collector, status recorder, dispatcher and its workers.
type node struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	transport   *wire.Transport
	bus         eventbus.EventBus
	workflows   *workflow.Repository
	collector   *receiver.Collector
	recorder    *receiver.StatusRecorder
	dispatcher  *dispatcher.Dispatcher
	workers     workerGroup

	shutdownTracer otelhelper.ShutdownFunc
}

func newNode(ctx context.Context, logger *slog.Logger, opts options) *node {
	tracer, shutdownTracer := cmd.NewTracer(ctx, logger, serviceName, opts.Tracing)
	brokers := kafka.ParseBrokers(opts.KafkaBrokers)

	n := &node{
		logger:         logger,
		persistence:    cmd.NewPersistence(ctx, logger, opts.DatabaseURL),
		registry:       cmd.NewRegistry(logger, opts.PluginsPath),
		transport:      cmd.NewTransport(opts.Transport, brokers, serviceName, logger),
		bus:            cmd.NewEventBus(opts.EventBus, brokers, serviceName+"-events", logger),
		shutdownTracer: shutdownTracer,
	}

	n.workflows = workflow.NewRepository(n.persistence)
	n.collector = receiver.NewCollector(n.transport, n.bus, logger)
	n.recorder = receiver.NewStatusRecorder(n.persistence, logger)
	n.workers = n.newWorkers(opts, tracer)
	n.dispatcher = dispatcher.New(dispatcher.Config{
		Transport:  n.transport,
		Executions: n.persistence,
		Workflows:  n.workflows,
		Resolver:   n.registry,
		Supervisor: n.workers,
		Tracer:     tracer,
	}, logger)

	return n
}

// newWorkers runs the workers as goroutines when the transport only reaches
// this process and as supervised processes otherwise.
func (n *node) newWorkers(opts options, tracer trace.Tracer) workerGroup {
	if opts.Transport == "gochannel" {
		return newWorkerPool(n.logger, n.transport, opts.Workers, func(id string) worker.Config {
			return worker.Config{
				ID:        id,
				Resolver:  n.registry,
				Validator: validation.New(),
				Instances: n.registry,
				Workflows: n.workflows,
				Tracer:    tracer,
			}
		})
	}

	return dispatcher.NewSupervisor(dispatcher.SupervisorConfig{
		Binary: opts.WorkerBinary,
		Count:  opts.Workers,
		Env: []string{
			"DATABASE_URL=" + opts.DatabaseURL,
			"TRANSPORT_TYPE=" + opts.Transport,
			"KAFKA_BROKERS=" + opts.KafkaBrokers,
			"PLUGINS_PATH=" + opts.PluginsPath,
			"LOG_LEVEL=" + opts.LogLevel,
			"TRACING_ENABLED=" + strconv.FormatBool(opts.Tracing),
		},
	}, n.logger)
}

// start wires the event consumers, starts the collector, the dispatcher loop
// and the workers. run is called with the dispatcher loop.
func (n *node) start(ctx context.Context, run func(func() error)) error {
	err := n.recorder.Register(n.bus)
	if err != nil {
		return fmt.Errorf("failed to register status recorder: %w", err)
	}

	err = n.dispatcher.Register(n.bus)
	if err != nil {
		return fmt.Errorf("failed to register dispatcher: %w", err)
	}

	err = n.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	err = n.collector.Start(ctx)
	if err != nil {
		return err
	}

	run(func() error {
		return n.dispatcher.Run(ctx)
	})

	n.workers.OnExit(func(workerID string, err error) {
		n.logger.WarnContext(ctx, "Worker lost", "worker_id", workerID, "error", err)
		n.dispatcher.WorkerLost(workerID)
	})

	ids, err := n.workers.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	n.logger.InfoContext(ctx, "Workers started", "workers", ids)

	return nil
}

func (n *node) close(ctx context.Context) {
	err := n.transport.Close()
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to close transport", "error", err)
	}

	err = n.bus.Close()
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = n.persistence.Close(ctx)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}

	err = n.shutdownTracer(ctx)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
	}
}
