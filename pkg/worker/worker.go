// Package worker hosts the execution engine behind a worker topic: it runs one
// execution at a time, applies control messages to it and forwards every event
// to the results topic.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/otelhelper"
	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	inboxSize       = 16
	minPollInterval = 10 * time.Millisecond
	maxPollInterval = 500 * time.Millisecond
)

var ErrNoWorkflowSource = errors.New("request carries no workflow and no workflow store is configured")

// Transport is the part of wire.Transport a worker uses.
type Transport interface {
	WorkerMessages(ctx context.Context, workerID string) (<-chan *message.Message, error)
	PublishResult(ctx context.Context, result wire.ResultEvent) error
}

type Config struct {
	ID        string
	Resolver  protocol.CapabilityResolver
	Validator protocol.ArgumentValidator
	Instances protocol.InstanceFactory
	Workflows workflow.Fetcher
	Tracer    trace.Tracer
}

type Worker struct {
	id        string
	transport Transport
	executor  *workflow.Executor
	resolver  protocol.CapabilityResolver
	workflows workflow.Fetcher
	tracer    trace.Tracer
	logger    *slog.Logger
	inbox     chan *wire.ExecuteWorkflow

	mu      sync.Mutex
	current *workflow.Run
	queued  map[string][]wire.Control
}

func New(config Config, transport Transport, logger *slog.Logger) *Worker {
	tracer := config.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	w := &Worker{
		id:        config.ID,
		transport: transport,
		resolver:  config.Resolver,
		workflows: config.Workflows,
		tracer:    tracer,
		logger:    logger.With("module", "walkoff_worker", "worker_id", config.ID),
		inbox:     make(chan *wire.ExecuteWorkflow, inboxSize),
		queued:    make(map[string][]wire.Control),
	}

	w.executor = workflow.NewExecutor(workflow.ExecutionContext{
		Resolver:  config.Resolver,
		Validator: config.Validator,
		Instances: config.Instances,
		Workflows: config.Workflows,
		Emitter:   w,
	}, logger)

	return w
}

func (w *Worker) ID() string {
	return w.id
}

// Run serves the worker topic until ctx is cancelled, an EXIT control message
// arrives or the subscription closes. An execution in progress is aborted at
// its next node and allowed to finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := w.transport.WorkerMessages(ctx, w.id)
	if err != nil {
		return fmt.Errorf("failed to subscribe to worker topic: %w", err)
	}

	go w.demux(ctx, cancel, messages)

	w.Emit(ctx, events.New(events.WorkerReady, "", w.sender(""), nil))
	w.logger.InfoContext(ctx, "Worker ready")

	poll := newPollBackOff()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		case request := <-w.inbox:
			w.execute(context.WithoutCancel(ctx), request)
			poll.Reset()

			continue
		default:
		}

		select {
		case <-ctx.Done():
		case <-time.After(poll.NextBackOff()):
		}
	}
}

// Emit forwards an engine event to the results topic. Once the run has
// reported its suspension or completion, later control messages for it are
// rejected rather than applied.
func (w *Worker) Emit(ctx context.Context, event events.Event) {
	event.WorkerID = w.id

	if event.Type.ReleasesExecution() {
		w.detach(event.ExecutionID)
	}

	err := w.transport.PublishResult(context.WithoutCancel(ctx), wire.ResultFromEvent(event))
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish result", "error", err, "event_type", event.Type, "execution_id", event.ExecutionID)
	}
}

func (w *Worker) demux(ctx context.Context, cancel context.CancelFunc, messages <-chan *message.Message) {
	defer cancel()

	for msg := range messages {
		switch wire.TypeOf(msg) {
		case wire.MessageExecuteWorkflow:
			w.receiveExecute(ctx, msg)
		case wire.MessageControl:
			w.receiveControl(ctx, cancel, msg)
		default:
			w.logger.WarnContext(ctx, "Discarding unexpected message", "message_type", wire.TypeOf(msg), "message_id", msg.UUID)
		}

		msg.Ack()
	}
}

func (w *Worker) receiveExecute(ctx context.Context, msg *message.Message) {
	request, err := wire.DecodeExecute(msg.Payload)
	if err != nil {
		w.logger.ErrorContext(ctx, "Discarding malformed execution request", "error", err, "message_id", msg.UUID)

		return
	}

	w.mu.Lock()
	w.queued[request.ExecutionID] = nil
	w.mu.Unlock()

	select {
	case w.inbox <- request:
	case <-ctx.Done():
	}
}

func (w *Worker) receiveControl(ctx context.Context, cancel context.CancelFunc, msg *message.Message) {
	control, err := wire.DecodeControl(msg.Payload)
	if err != nil {
		w.logger.ErrorContext(ctx, "Discarding malformed control message", "error", err, "message_id", msg.UUID)

		return
	}

	logger := w.logger.With("control", control.Type, "execution_id", control.ExecutionID)

	if control.Type == wire.ControlExit {
		logger.InfoContext(ctx, "Exit requested")

		w.mu.Lock()
		if w.current != nil {
			w.current.Abort()
		}
		w.mu.Unlock()

		cancel()

		return
	}

	if w.take(*control) {
		logger.InfoContext(ctx, "Accepted control message")

		return
	}

	// The run may have suspended after the dispatcher routed this here. Hand
	// the control back so it can be applied to the persisted execution.
	logger.WarnContext(ctx, "Rejecting control message for execution not held by this worker")
	w.Emit(ctx, events.New(events.ControlRejected, control.ExecutionID, w.sender(""), wire.RejectionPayload(*control)))
}

// take applies control to the current run or stashes it for a queued one. It
// reports false when the worker holds neither.
func (w *Worker) take(control wire.Control) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.ExecutionID() == control.ExecutionID {
		apply(w.current, control)

		return true
	}

	if stashed, ok := w.queued[control.ExecutionID]; ok {
		w.queued[control.ExecutionID] = append(stashed, control)

		return true
	}

	return false
}

func apply(run *workflow.Run, control wire.Control) {
	switch control.Type {
	case wire.ControlPause:
		run.Pause()
	case wire.ControlAbort:
		run.Abort()
	case wire.ControlSendData:
		run.SendData(control.Payload.Data, wire.ArgumentsToModel(control.Payload.Arguments))
	case wire.ControlResume, wire.ControlExit:
	}
}

func (w *Worker) execute(ctx context.Context, request *wire.ExecuteWorkflow) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.execute",
		attribute.String(otelhelper.WorkerIDKey, w.id),
		attribute.String(otelhelper.ExecutionIDKey, request.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, request.WorkflowID),
	)
	defer span.End()

	defer w.release(request.ExecutionID)

	logger := w.logger.With("execution_id", request.ExecutionID, "workflow_id", request.WorkflowID)
	logger.InfoContext(ctx, "Executing request", "resume", request.Resume, "start_action_id", request.StartActionID)

	wf, err := w.loadWorkflow(ctx, request)
	if err != nil {
		w.fail(ctx, logger, span, request, err)

		return
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowNameKey, wf.Name))

	run := w.executor.NewRun(toRequest(request, wf))
	w.hold(run)

	result, err := run.RunUntilSuspend(ctx)
	if err != nil {
		w.fail(ctx, logger, span, request, err)

		return
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionState, result.State.String()))
	logger.InfoContext(ctx, "Execution returned", "state", result.State.String())
}

func (w *Worker) loadWorkflow(ctx context.Context, request *wire.ExecuteWorkflow) (*models.Workflow, error) {
	wf := request.Workflow
	if wf == nil {
		if w.workflows == nil {
			return nil, ErrNoWorkflowSource
		}

		var err error

		wf, err = w.workflows.FetchByID(ctx, request.WorkflowID)
		if err != nil {
			return nil, err
		}
	}

	if !workflow.Validate(wf, w.resolver) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrInvalidWorkflow, strings.Join(wf.Errors, "; "))
	}

	return wf, nil
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, span trace.Span, request *wire.ExecuteWorkflow, err error) {
	logger.ErrorContext(ctx, "Execution failed", "error", err)
	otelhelper.SetError(span, err)

	w.Emit(ctx, events.New(events.WorkflowAborted, request.ExecutionID, w.sender(request.WorkflowID), map[string]any{
		"error": err.Error(),
	}))
}

// hold makes run the target of control messages and replays any that arrived
// while its request was queued.
func (w *Worker) hold(run *workflow.Run) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = run

	for _, control := range w.queued[run.ExecutionID()] {
		apply(run, control)
	}

	delete(w.queued, run.ExecutionID())
}

func (w *Worker) detach(executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.ExecutionID() == executionID {
		w.current = nil
	}
}

func (w *Worker) release(executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = nil
	delete(w.queued, executionID)
}

func (w *Worker) sender(workflowID string) events.Sender {
	return events.Sender{Type: events.SenderWorker, ID: w.id, WorkflowID: workflowID}
}

func toRequest(request *wire.ExecuteWorkflow, wf *models.Workflow) workflow.Request {
	req := workflow.Request{
		ExecutionID:    request.ExecutionID,
		Workflow:       wf,
		StartActionID:  request.StartActionID,
		StartArguments: wire.ArgumentsToModel(request.StartArguments),
		Resume:         request.Resume,
		Accumulator:    request.Accumulator,
	}

	if request.TriggerData != nil {
		req.TriggerData = &workflow.TriggerData{
			Data:      request.TriggerData.Data,
			Arguments: wire.ArgumentsToModel(request.TriggerData.Arguments),
		}
	}

	return req
}

func newPollBackOff() *backoff.ExponentialBackOff {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = minPollInterval
	poll.MaxInterval = maxPollInterval
	poll.MaxElapsedTime = 0
	poll.Reset()

	return poll
}
