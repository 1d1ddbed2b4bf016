// Package dispatcher routes execution requests to idle workers and control
// commands to the worker that owns an execution, and supervises worker
// processes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/otelhelper"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	commandBuffer   = 256
	minPollInterval = 10 * time.Millisecond
	maxPollInterval = time.Second
	dispatcherID    = "dispatcher"

	// redeliverTimeout bounds how long a rejected control waits for the
	// execution's suspension to be recorded.
	redeliverTimeout = 10 * time.Second
)

var (
	ErrStopped       = errors.New("dispatcher is stopped")
	ErrNoWorkflow    = errors.New("no workflow given")
	ErrNoCheckpoint  = errors.New("execution has no checkpoint")
	ErrNotSuspended  = errors.New("execution is not suspended")
	ErrNoStateRecord = errors.New("no execution store configured")
	ErrScheduled     = errors.New("execution is already queued or running")
)

// Transport is the part of wire.Transport the dispatcher uses.
type Transport interface {
	SendExecute(ctx context.Context, workerID string, request wire.ExecuteWorkflow) error
	SendControl(ctx context.Context, workerID string, control wire.Control) error
	PublishResult(ctx context.Context, result wire.ResultEvent) error
}

// ExecutionStore reads the execution records kept by the status recorder.
type ExecutionStore interface {
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)
}

// Shutdowner stops worker processes once they have been told to exit.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type Config struct {
	Transport  Transport
	Executions ExecutionStore
	Workflows  workflow.Fetcher
	// Resolver, when set, validates workflows before they are queued.
	Resolver   protocol.CapabilityResolver
	Supervisor Shutdowner
	Tracer     trace.Tracer
}

// SubmitRequest asks for a workflow to be executed. Workflow may be left nil
// when WorkflowID names a stored workflow.
type SubmitRequest struct {
	WorkflowID     string
	Workflow       *models.Workflow
	ExecutionID    string
	StartActionID  string
	StartArguments []models.Argument
	Resume         bool
	Accumulator    map[string]any
	TriggerData    *wire.TriggerData
}

type workerSlot struct {
	id          string
	alive       bool
	executionID string
}

type Dispatcher struct {
	transport  Transport
	executions ExecutionStore
	workflows  workflow.Fetcher
	resolver   protocol.CapabilityResolver
	supervisor Shutdowner
	tracer     trace.Tracer
	logger     *slog.Logger

	commands chan command
	stopped  chan struct{}

	// Owned by the loop goroutine.
	workers []*workerSlot
	cursor  int
	queue   []*wire.ExecuteWorkflow
	owners  map[string]string
}

func New(config Config, logger *slog.Logger) *Dispatcher {
	tracer := config.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Dispatcher{
		transport:  config.Transport,
		executions: config.Executions,
		workflows:  config.Workflows,
		resolver:   config.Resolver,
		supervisor: config.Supervisor,
		tracer:     tracer,
		logger:     logger.With("module", "dispatcher"),
		commands:   make(chan command, commandBuffer),
		stopped:    make(chan struct{}),
		owners:     make(map[string]string),
	}
}

// Register subscribes the dispatcher to worker readiness and to the events
// that end a worker's hold on an execution.
func (d *Dispatcher) Register(bus eventbus.EventSubscriber) error {
	return bus.HandleAll(d.observe)
}

func (d *Dispatcher) observe(ctx context.Context, event events.Event) error {
	switch {
	case event.Type == events.WorkerReady:
		workerID := event.WorkerID
		if workerID == "" {
			workerID = event.Sender.ID
		}

		d.notify(command{kind: commandWorkerReady, workerID: workerID})
	case event.Type.ReleasesExecution() && event.ExecutionID != "":
		d.notify(command{kind: commandReleased, executionID: event.ExecutionID, workerID: event.WorkerID})
	case event.Type == events.ControlRejected:
		go d.redeliver(context.WithoutCancel(ctx), event)
	}

	return nil
}

// WorkerLost marks a worker dead. The execution it owned is reported aborted.
func (d *Dispatcher) WorkerLost(workerID string) {
	d.notify(command{kind: commandWorkerLost, workerID: workerID})
}

// Run processes commands until ctx is cancelled or Exit is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)

	d.logger.InfoContext(ctx, "Dispatcher started")

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = minPollInterval
	poll.MaxInterval = maxPollInterval
	poll.MaxElapsedTime = 0
	poll.Reset()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Dispatcher stopped")

			return nil
		case cmd := <-d.commands:
			if d.handle(ctx, cmd) {
				d.logger.InfoContext(ctx, "Dispatcher exited")

				return nil
			}

			poll.Reset()
		case <-time.After(poll.NextBackOff()):
			d.assign(ctx)
		}
	}
}

// Submit queues an execution and returns its id.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.submit",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
	)
	defer span.End()

	request, err := d.prepare(ctx, executionID, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	if req.Resume {
		err = d.unscheduled(ctx, executionID)
		if err != nil {
			otelhelper.SetError(span, err)

			return "", err
		}
	}

	d.emit(ctx, events.WorkflowExecutionPending, executionID, request.WorkflowID, nil)

	out, err := d.do(ctx, command{kind: commandExecute, executionID: executionID, request: request})
	if err == nil && out.outcome == outcomeScheduled {
		err = fmt.Errorf("%w: %s", ErrScheduled, executionID)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	d.logger.InfoContext(ctx, "Execution submitted", "execution_id", executionID, "workflow_id", request.WorkflowID)

	return executionID, nil
}

func (d *Dispatcher) prepare(ctx context.Context, executionID string, req SubmitRequest) (*wire.ExecuteWorkflow, error) {
	wf := req.Workflow
	if wf == nil && d.workflows != nil && req.WorkflowID != "" {
		var err error

		wf, err = d.workflows.FetchByID(ctx, req.WorkflowID)
		if err != nil {
			return nil, err
		}
	}

	workflowID := req.WorkflowID

	if wf != nil {
		workflowID = wf.ID

		if d.resolver != nil && !workflow.Validate(wf, d.resolver) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrInvalidWorkflow, strings.Join(wf.Errors, "; "))
		}
	}

	if workflowID == "" {
		return nil, ErrNoWorkflow
	}

	arguments, err := wire.ArgumentsFromModel(req.StartArguments)
	if err != nil {
		return nil, err
	}

	return &wire.ExecuteWorkflow{
		WorkflowID:     workflowID,
		ExecutionID:    executionID,
		StartActionID:  req.StartActionID,
		StartArguments: arguments,
		Resume:         req.Resume,
		Workflow:       wf,
		Accumulator:    req.Accumulator,
		TriggerData:    req.TriggerData,
	}, nil
}

// Pause asks the worker running the execution to pause it. It reports false
// when the execution is not running.
func (d *Dispatcher) Pause(ctx context.Context, executionID string) (bool, error) {
	ctx, span := d.span(ctx, "dispatcher.pause", executionID)
	defer span.End()

	out, err := d.do(ctx, command{kind: commandPause, executionID: executionID})
	if err != nil {
		return false, err
	}

	return out.outcome == outcomeForwarded, nil
}

// Resume restarts a paused execution from its checkpoint. It reports false
// when the execution is not paused.
func (d *Dispatcher) Resume(ctx context.Context, executionID string) (bool, error) {
	ctx, span := d.span(ctx, "dispatcher.resume", executionID)
	defer span.End()

	execution, err := d.suspended(ctx, executionID, models.ExecutionStatusPaused)
	if err == nil {
		err = d.unscheduled(ctx, executionID)
	}

	if err != nil {
		if errors.Is(err, ErrNotSuspended) || errors.Is(err, ErrScheduled) || persistence.IsExecutionNotFound(err) {
			d.logger.WarnContext(ctx, "Cannot resume execution that is not paused", "execution_id", executionID, "error", err)

			return false, nil
		}

		return false, err
	}

	d.emit(ctx, events.WorkflowResumed, executionID, execution.WorkflowID, nil)

	_, err = d.Submit(ctx, resumeRequest(execution, nil))
	if errors.Is(err, ErrScheduled) {
		return false, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return false, err
	}

	return true, nil
}

// Abort stops an execution: a running one at its next node, a queued one
// before it starts and a suspended one for good. It reports false when the
// execution is unknown.
func (d *Dispatcher) Abort(ctx context.Context, executionID string) (bool, error) {
	ctx, span := d.span(ctx, "dispatcher.abort", executionID)
	defer span.End()

	out, err := d.do(ctx, command{kind: commandAbort, executionID: executionID})
	if err != nil {
		return false, err
	}

	switch out.outcome {
	case outcomeForwarded:
		return true, nil
	case outcomeFailed:
		return false, nil
	case outcomeDropped:
		d.emit(ctx, events.WorkflowAborted, executionID, "", map[string]any{"reason": "aborted before start"})

		return true, nil
	}

	execution, err := d.suspended(ctx, executionID, models.ExecutionStatusPaused, models.ExecutionStatusAwaitingData)
	if err != nil {
		if errors.Is(err, ErrNotSuspended) || persistence.IsExecutionNotFound(err) || errors.Is(err, ErrNoStateRecord) {
			d.logger.WarnContext(ctx, "Cannot abort execution not held by any worker", "execution_id", executionID)

			return false, nil
		}

		return false, err
	}

	d.emit(ctx, events.WorkflowAborted, executionID, execution.WorkflowID, map[string]any{"reason": "aborted while " + string(execution.Status)})

	return true, nil
}

// SendDataToTrigger delivers data to the trigger actions of the given
// executions. Running executions receive it directly; executions suspended
// awaiting data are resumed with it. It returns the ids the data was
// delivered to.
func (d *Dispatcher) SendDataToTrigger(ctx context.Context, data any, executionIDs []string, arguments []models.Argument) ([]string, error) {
	wireArguments, err := wire.ArgumentsFromModel(arguments)
	if err != nil {
		return nil, err
	}

	payload := &wire.TriggerData{Data: data, Arguments: wireArguments}

	var delivered []string

	for _, executionID := range executionIDs {
		ok, err := d.sendData(ctx, executionID, payload)
		if err != nil {
			return delivered, err
		}

		if ok {
			delivered = append(delivered, executionID)
		}
	}

	return delivered, nil
}

func (d *Dispatcher) sendData(ctx context.Context, executionID string, payload *wire.TriggerData) (bool, error) {
	ctx, span := d.span(ctx, "dispatcher.send_data", executionID)
	defer span.End()

	out, err := d.do(ctx, command{kind: commandSendData, executionID: executionID, payload: payload})
	if err != nil {
		return false, err
	}

	switch out.outcome {
	case outcomeForwarded:
		return true, nil
	case outcomeFailed:
		return false, nil
	case outcomeScheduled:
		d.logger.WarnContext(ctx, "Dropping trigger data for execution already queued", "execution_id", executionID)

		return false, nil
	}

	execution, err := d.suspended(ctx, executionID, models.ExecutionStatusAwaitingData)
	if err != nil {
		if errors.Is(err, ErrNotSuspended) || persistence.IsExecutionNotFound(err) || errors.Is(err, ErrNoStateRecord) {
			d.logger.WarnContext(ctx, "Dropping trigger data for execution not awaiting data", "execution_id", executionID)

			return false, nil
		}

		return false, err
	}

	_, err = d.Submit(ctx, resumeRequest(execution, payload))
	if errors.Is(err, ErrScheduled) {
		d.logger.WarnContext(ctx, "Dropping trigger data for execution already queued", "execution_id", executionID)

		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// WaitingExecutions lists the executions suspended on a trigger action.
func (d *Dispatcher) WaitingExecutions(ctx context.Context) ([]*models.Execution, error) {
	if d.executions == nil {
		return nil, ErrNoStateRecord
	}

	return d.executions.ExecutionsByStatus(ctx, models.ExecutionStatusAwaitingData)
}

// Snapshot returns the current routing state.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	out, err := d.do(ctx, command{kind: commandSnapshot})
	if err != nil {
		return Snapshot{}, err
	}

	return out.snapshot, nil
}

// Exit tells every worker to exit, stops the loop and shuts the worker
// processes down.
func (d *Dispatcher) Exit(ctx context.Context) error {
	_, err := d.do(ctx, command{kind: commandExit})
	if err != nil && !errors.Is(err, ErrStopped) {
		return err
	}

	if d.supervisor == nil {
		return nil
	}

	return d.supervisor.Shutdown(ctx)
}

func (d *Dispatcher) suspended(ctx context.Context, executionID string, statuses ...models.ExecutionStatus) (*models.Execution, error) {
	if d.executions == nil {
		return nil, ErrNoStateRecord
	}

	execution, err := d.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(statuses, execution.Status) {
		return execution, fmt.Errorf("%w: %s is %s", ErrNotSuspended, executionID, execution.Status)
	}

	if execution.Checkpoint == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, executionID)
	}

	return execution, nil
}

// unscheduled fails with ErrScheduled when a run of the execution is already
// queued or owned by a worker.
func (d *Dispatcher) unscheduled(ctx context.Context, executionID string) error {
	out, err := d.do(ctx, command{kind: commandScheduled, executionID: executionID})
	if err != nil {
		return err
	}

	if out.outcome == outcomeScheduled {
		return fmt.Errorf("%w: %s", ErrScheduled, executionID)
	}

	return nil
}

// redeliver applies a control that a worker rejected because its run had
// already suspended. The suspension reaches the execution store
// asynchronously, so the store is polled until it shows the execution
// suspended or settled some other way.
func (d *Dispatcher) redeliver(ctx context.Context, event events.Event) {
	logger := d.logger.With("execution_id", event.ExecutionID, "worker_id", event.WorkerID)

	control, err := wire.RejectedControl(event)
	if err != nil {
		logger.ErrorContext(ctx, "Discarding unreadable rejected control", "error", err)

		return
	}

	logger = logger.With("control", control.Type)

	if control.Type != wire.ControlAbort && control.Type != wire.ControlSendData {
		logger.InfoContext(ctx, "Control rejected by worker no longer running the execution")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, redeliverTimeout)
	defer cancel()

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = minPollInterval
	poll.MaxInterval = maxPollInterval
	poll.MaxElapsedTime = redeliverTimeout

	err = backoff.Retry(func() error {
		return d.applySuspended(ctx, *control)
	}, backoff.WithContext(poll, ctx))
	if err != nil {
		logger.WarnContext(ctx, "Rejected control could not be applied", "error", err)

		return
	}

	logger.InfoContext(ctx, "Applied rejected control to suspended execution")
}

func (d *Dispatcher) applySuspended(ctx context.Context, control wire.Control) error {
	statuses := []models.ExecutionStatus{models.ExecutionStatusAwaitingData}
	if control.Type == wire.ControlAbort {
		statuses = append(statuses, models.ExecutionStatusPaused)
	}

	execution, err := d.suspended(ctx, control.ExecutionID, statuses...)
	if err != nil {
		// Pending and running records lag behind the worker; anything else is final.
		if errors.Is(err, ErrNotSuspended) && (execution.Status == models.ExecutionStatusPending || execution.Status == models.ExecutionStatusRunning) {
			return err
		}

		return backoff.Permanent(err)
	}

	if control.Type == wire.ControlAbort {
		d.emit(ctx, events.WorkflowAborted, execution.ID, execution.WorkflowID, map[string]any{"reason": "aborted while " + string(execution.Status)})

		return nil
	}

	_, err = d.Submit(ctx, resumeRequest(execution, control.Payload))
	if err != nil && !errors.Is(err, ErrScheduled) {
		return backoff.Permanent(err)
	}

	return err
}

func resumeRequest(execution *models.Execution, payload *wire.TriggerData) SubmitRequest {
	workflowID := execution.Checkpoint.WorkflowID
	if workflowID == "" {
		workflowID = execution.WorkflowID
	}

	return SubmitRequest{
		WorkflowID:    workflowID,
		ExecutionID:   execution.ID,
		StartActionID: execution.Checkpoint.ActionID,
		Resume:        true,
		Accumulator:   execution.Checkpoint.Accumulator,
		TriggerData:   payload,
	}
}

func (d *Dispatcher) do(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)

	select {
	case d.commands <- cmd:
	case <-d.stopped:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case out := <-cmd.reply:
		return out, nil
	case <-d.stopped:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (d *Dispatcher) notify(cmd command) {
	select {
	case d.commands <- cmd:
	case <-d.stopped:
	}
}

// handle runs one command on the loop goroutine. It returns true when the
// loop must stop.
func (d *Dispatcher) handle(ctx context.Context, cmd command) bool {
	out := reply{outcome: outcomeNotFound}
	logger := d.logger.With("command", cmd.kind.String(), "execution_id", cmd.executionID)

	switch cmd.kind {
	case commandExecute:
		if cmd.request.Resume && d.scheduled(cmd.executionID) {
			logger.WarnContext(ctx, "Execution is already queued or running")

			out.outcome = outcomeScheduled

			break
		}

		d.queue = append(d.queue, cmd.request)
		out.outcome = outcomeQueued
		d.assign(ctx)
	case commandPause:
		out.outcome = d.forward(ctx, logger, cmd.executionID, wire.Control{Type: wire.ControlPause, ExecutionID: cmd.executionID})
	case commandAbort:
		out.outcome = d.forward(ctx, logger, cmd.executionID, wire.Control{Type: wire.ControlAbort, ExecutionID: cmd.executionID})
		if out.outcome == outcomeNotFound && d.dequeue(cmd.executionID) {
			out.outcome = outcomeDropped
		}
	case commandSendData:
		out.outcome = d.forward(ctx, logger, cmd.executionID, wire.Control{Type: wire.ControlSendData, ExecutionID: cmd.executionID, Payload: cmd.payload})
		if out.outcome == outcomeNotFound && d.queued(cmd.executionID) {
			out.outcome = outcomeScheduled
		}
	case commandExit:
		d.broadcastExit(ctx)
		d.reply(cmd, out)

		return true
	case commandWorkerReady:
		d.ready(ctx, cmd.workerID)
	case commandWorkerLost:
		d.lost(ctx, cmd.workerID)
	case commandReleased:
		d.release(ctx, cmd.executionID)
	case commandSnapshot:
		out.snapshot = d.snapshot()
	case commandScheduled:
		if d.scheduled(cmd.executionID) {
			out.outcome = outcomeScheduled
		}
	}

	d.reply(cmd, out)

	return false
}

func (d *Dispatcher) reply(cmd command, out reply) {
	if cmd.reply != nil {
		cmd.reply <- out
	}
}

func (d *Dispatcher) forward(ctx context.Context, logger *slog.Logger, executionID string, control wire.Control) outcome {
	workerID, ok := d.owners[executionID]
	if !ok {
		logger.WarnContext(ctx, "No worker owns execution")

		return outcomeNotFound
	}

	err := d.transport.SendControl(ctx, workerID, control)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to forward control message", "error", err, "worker_id", workerID)

		return outcomeFailed
	}

	logger.InfoContext(ctx, "Forwarded control message", "worker_id", workerID)

	return outcomeForwarded
}

// assign hands queued requests, oldest first, to idle workers in round-robin
// order. A request for an execution still owned by a worker waits its turn.
func (d *Dispatcher) assign(ctx context.Context) {
	for i := 0; i < len(d.queue); {
		request := d.queue[i]

		if _, owned := d.owners[request.ExecutionID]; owned {
			i++

			continue
		}

		worker := d.nextIdle()
		if worker == nil {
			return
		}

		err := d.transport.SendExecute(ctx, worker.id, *request)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to send execution request", "error", err, "worker_id", worker.id, "execution_id", request.ExecutionID)

			return
		}

		worker.executionID = request.ExecutionID
		d.owners[request.ExecutionID] = worker.id
		d.queue = slices.Delete(d.queue, i, i+1)

		d.logger.InfoContext(ctx, "Assigned execution", "worker_id", worker.id, "execution_id", request.ExecutionID)
	}
}

func (d *Dispatcher) nextIdle() *workerSlot {
	for range d.workers {
		worker := d.workers[d.cursor%len(d.workers)]
		d.cursor = (d.cursor + 1) % len(d.workers)

		if worker.alive && worker.executionID == "" {
			return worker
		}
	}

	return nil
}

func (d *Dispatcher) queued(executionID string) bool {
	return slices.ContainsFunc(d.queue, func(request *wire.ExecuteWorkflow) bool {
		return request.ExecutionID == executionID
	})
}

func (d *Dispatcher) scheduled(executionID string) bool {
	_, owned := d.owners[executionID]

	return owned || d.queued(executionID)
}

func (d *Dispatcher) dequeue(executionID string) bool {
	for i, request := range d.queue {
		if request.ExecutionID == executionID {
			d.queue = slices.Delete(d.queue, i, i+1)

			return true
		}
	}

	return false
}

func (d *Dispatcher) worker(workerID string) *workerSlot {
	for _, worker := range d.workers {
		if worker.id == workerID {
			return worker
		}
	}

	return nil
}

func (d *Dispatcher) ready(ctx context.Context, workerID string) {
	if workerID == "" {
		return
	}

	worker := d.worker(workerID)
	if worker == nil {
		worker = &workerSlot{id: workerID}
		d.workers = append(d.workers, worker)
	}

	if worker.executionID != "" {
		delete(d.owners, worker.executionID)
		worker.executionID = ""
	}

	worker.alive = true

	d.logger.InfoContext(ctx, "Worker ready", "worker_id", workerID, "workers", len(d.workers))
	d.assign(ctx)
}

func (d *Dispatcher) lost(ctx context.Context, workerID string) {
	worker := d.worker(workerID)
	if worker == nil {
		return
	}

	worker.alive = false

	d.logger.WarnContext(ctx, "Worker lost", "worker_id", workerID, "execution_id", worker.executionID)

	if worker.executionID == "" {
		return
	}

	executionID := worker.executionID
	worker.executionID = ""
	delete(d.owners, executionID)

	d.emit(ctx, events.WorkflowAborted, executionID, "", map[string]any{"error": "worker " + workerID + " exited"})
}

func (d *Dispatcher) release(ctx context.Context, executionID string) {
	workerID, ok := d.owners[executionID]
	if !ok {
		return
	}

	delete(d.owners, executionID)

	if worker := d.worker(workerID); worker != nil && worker.executionID == executionID {
		worker.executionID = ""
	}

	d.logger.DebugContext(ctx, "Execution released", "execution_id", executionID, "worker_id", workerID)
	d.assign(ctx)
}

func (d *Dispatcher) broadcastExit(ctx context.Context) {
	for _, worker := range d.workers {
		if !worker.alive {
			continue
		}

		err := d.transport.SendControl(ctx, worker.id, wire.Control{Type: wire.ControlExit})
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to send exit", "error", err, "worker_id", worker.id)
		}
	}
}

func (d *Dispatcher) snapshot() Snapshot {
	snapshot := Snapshot{
		Workers: make([]WorkerStatus, 0, len(d.workers)),
		Queued:  make([]string, 0, len(d.queue)),
		Owners:  maps.Clone(d.owners),
	}

	for _, worker := range d.workers {
		snapshot.Workers = append(snapshot.Workers, WorkerStatus{ID: worker.id, Alive: worker.alive, ExecutionID: worker.executionID})
	}

	for _, request := range d.queue {
		snapshot.Queued = append(snapshot.Queued, request.ExecutionID)
	}

	return snapshot
}

func (d *Dispatcher) emit(ctx context.Context, eventType events.EventType, executionID, workflowID string, data map[string]any) {
	sender := events.Sender{Type: events.SenderDispatcher, ID: dispatcherID, WorkflowID: workflowID}

	err := d.transport.PublishResult(ctx, wire.ResultFromEvent(events.New(eventType, executionID, sender, data)))
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish event", "error", err, "event_type", eventType, "execution_id", executionID)
	}
}

//nolint:ireturn,spancheck
func (d *Dispatcher) span(ctx context.Context, name, executionID string) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, d.tracer, name, attribute.String(otelhelper.ExecutionIDKey, executionID))
}
