// Package workflow runs workflow graphs: it walks actions and child workflows,
// follows branches and honours pause, abort and trigger suspension.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/99scratch/WALKOFF/pkg/conditions"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
)

var ErrInvalidWorkflow = errors.New("workflow is invalid")

// State is how a call to RunUntilSuspend ended.
type State int

const (
	StateCompleted State = iota
	StateAborted
	StatePaused
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StatePaused:
		return "paused"
	case StateTriggered:
		return "triggered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes where a run stopped. Checkpoint is set for Paused and
// Triggered runs and points at the node to resume from.
type Result struct {
	State       State
	Value       any
	Accumulator map[string]any
	Checkpoint  *models.Checkpoint
}

// TriggerData is data delivered to a run waiting on a trigger action.
// Arguments, when present, replace the trigger action's arguments.
type TriggerData struct {
	Data      any               `json:"data"`
	Arguments []models.Argument `json:"arguments,omitempty"`
}

// Request starts or resumes one execution.
type Request struct {
	ExecutionID    string
	Workflow       *models.Workflow
	StartActionID  string
	StartArguments []models.Argument
	Resume         bool
	TriggerData    *TriggerData
	Accumulator    map[string]any
}

// ExecutionContext holds the collaborators a run needs.
type ExecutionContext struct {
	Resolver  protocol.CapabilityResolver
	Validator protocol.ArgumentValidator
	Instances protocol.InstanceFactory
	Workflows Fetcher
	Emitter   protocol.Emitter
}

type Executor struct {
	exec      ExecutionContext
	evaluator *conditions.Evaluator
	logger    *slog.Logger
}

func NewExecutor(exec ExecutionContext, logger *slog.Logger) *Executor {
	if exec.Emitter == nil {
		exec.Emitter = protocol.EmitterFunc(func(context.Context, events.Event) {})
	}

	return &Executor{
		exec:      exec,
		evaluator: conditions.NewEvaluator(exec.Resolver, exec.Validator, exec.Emitter, logger),
		logger:    logger.With("module", "workflow_executor"),
	}
}

// Execute runs the request until it completes or suspends.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	return e.NewRun(req).RunUntilSuspend(ctx)
}

// NewRun prepares a run whose Pause, Abort and SendData may be called from
// other goroutines while RunUntilSuspend is in progress.
func (e *Executor) NewRun(req Request) *Run {
	accumulator := models.Accumulator{}
	for key, value := range req.Accumulator {
		accumulator[key] = value
	}

	return &Run{
		executor:    e,
		emitter:     e.exec.Emitter,
		req:         req,
		accumulator: accumulator,
		logger: e.logger.With(
			"execution_id", req.ExecutionID,
			"workflow_id", workflowID(req.Workflow),
		),
	}
}

// Run is a single execution of a workflow.
type Run struct {
	executor *Executor
	emitter  protocol.Emitter
	req      Request
	parent   *Run
	logger   *slog.Logger

	abort  atomic.Bool
	paused atomic.Bool

	mu          sync.Mutex
	executing   string
	pending     []TriggerData
	accumulator models.Accumulator
}

func (r *Run) ExecutionID() string {
	return r.req.ExecutionID
}

// Executing returns the id of the node currently being run.
func (r *Run) Executing() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.executing
}

// Pause asks the run to stop before its next node.
func (r *Run) Pause() {
	r.paused.Store(true)
}

// Abort asks the run to stop for good before its next node.
func (r *Run) Abort() {
	r.abort.Store(true)
}

// SendData queues data for the run's trigger action.
func (r *Run) SendData(data any, arguments []models.Argument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, TriggerData{Data: data, Arguments: arguments})
}

// RunUntilSuspend walks the graph from the start (or checkpoint) node until
// no branch matches, the run is aborted or paused, or a trigger waits for data.
func (r *Run) RunUntilSuspend(ctx context.Context) (*Result, error) {
	workflow := r.req.Workflow
	if workflow == nil {
		return nil, fmt.Errorf("%w: no workflow given", ErrInvalidWorkflow)
	}

	if !workflow.IsValid {
		r.logger.ErrorContext(ctx, "Refusing to execute invalid workflow", "errors", workflow.Errors)

		return nil, fmt.Errorf("%w: %s", ErrInvalidWorkflow, workflow.ID)
	}

	instances := NewInstanceRepository(r.executor.exec.Instances)
	defer func() {
		err := instances.ShutdownAll(context.WithoutCancel(ctx))
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to shut down app instances", "error", err)
		}
	}()

	r.emitWorkflow(ctx, events.WorkflowExecutionStart, nil)
	r.logger.InfoContext(ctx, "Executing workflow")

	nodeID := workflow.Start
	if r.req.StartActionID != "" {
		nodeID = r.req.StartActionID
	}

	kind := r.nodeKind(nodeID)
	arguments := r.req.StartArguments
	resume := r.req.Resume
	triggerData := r.req.TriggerData

	var last models.ActionResult

	for nodeID != "" {
		r.setExecuting(nodeID)

		if r.abortRequested() {
			return r.aborted(ctx, nodeID), nil
		}

		if r.paused.CompareAndSwap(true, false) {
			return r.suspend(ctx, StatePaused, events.WorkflowPaused, nodeID, r.workflowSender(), nil), nil
		}

		var result models.ActionResult

		switch kind {
		case models.DestinationWorkflow:
			child, ok := workflow.ChildWorkflowByID(nodeID)
			if !ok {
				return nil, fmt.Errorf("%w: child workflow %s", models.ErrNodeNotFound, nodeID)
			}

			var aborted bool

			result, aborted = r.executeChild(ctx, child)
			if aborted {
				continue
			}
		default:
			action, ok := workflow.ActionByID(nodeID)
			if !ok {
				return nil, fmt.Errorf("%w: action %s", models.ErrNodeNotFound, nodeID)
			}

			if action.IsTrigger {
				suspended, data := r.awaitTrigger(ctx, action, triggerData, resume)
				if suspended != nil {
					return suspended, nil
				}

				if data != nil && len(data.Arguments) > 0 {
					arguments = data.Arguments
				}
			}

			result = r.executeAction(ctx, action, arguments, instances)
		}

		arguments = nil
		resume = false
		triggerData = nil
		last = result

		r.mu.Lock()
		r.accumulator[nodeID] = result.Result
		r.mu.Unlock()

		nodeID, kind = r.next(ctx, nodeID, result)
	}

	r.setExecuting("")
	r.shutdown(ctx, "completed")

	return &Result{
		State:       StateCompleted,
		Value:       last.Result,
		Accumulator: r.snapshot(),
	}, nil
}

// abortRequested consumes a pending abort. Nested runs only observe their
// ancestors' flag and leave it for the outermost run to consume.
func (r *Run) abortRequested() bool {
	if r.parent != nil {
		return r.parent.abortPending()
	}

	return r.abort.CompareAndSwap(true, false)
}

func (r *Run) abortPending() bool {
	return r.abort.Load() || (r.parent != nil && r.parent.abortPending())
}

func (r *Run) aborted(ctx context.Context, nodeID string) *Result {
	r.logger.InfoContext(ctx, "Workflow aborted", "node_id", nodeID)
	r.emitWorkflow(ctx, events.WorkflowAborted, map[string]any{"node_id": nodeID})
	r.shutdown(ctx, "aborted")

	return &Result{
		State:       StateAborted,
		Accumulator: r.snapshot(),
	}
}

func (r *Run) shutdown(ctx context.Context, status string) {
	r.emitWorkflow(ctx, events.WorkflowShutdown, map[string]any{
		"status":      status,
		"accumulator": r.snapshot(),
	})
}

func (r *Run) suspend(ctx context.Context, state State, eventType events.EventType, nodeID string, sender events.Sender, data map[string]any) *Result {
	checkpoint := &models.Checkpoint{
		WorkflowID:  r.req.Workflow.ID,
		ActionID:    nodeID,
		Accumulator: r.snapshot(),
	}

	if data == nil {
		data = map[string]any{}
	}

	data["checkpoint"] = checkpoint

	r.logger.InfoContext(ctx, "Workflow suspended", "state", state.String(), "node_id", nodeID)
	r.emit(ctx, eventType, sender, data)

	return &Result{
		State:       state,
		Accumulator: checkpoint.Accumulator,
		Checkpoint:  checkpoint,
	}
}

// awaitTrigger decides whether the trigger action may run. It returns a
// suspended result when it may not.
func (r *Run) awaitTrigger(ctx context.Context, action *models.Action, supplied *TriggerData, resume bool) (*Result, *TriggerData) {
	sender := actionSender(action, r.req.Workflow.ID)

	data := supplied
	if data == nil {
		data = r.takePending()
	}

	if data == nil {
		if resume {
			return nil, nil
		}

		return r.suspend(ctx, StateTriggered, events.TriggerActionAwaitingData, action.ID, sender, nil), nil
	}

	scope := conditions.Scope{ExecutionID: r.req.ExecutionID, WorkflowID: r.req.Workflow.ID}
	if !r.executor.evaluator.Evaluate(ctx, scope, action.Trigger, data.Data, r.accumulatorView()) {
		return r.suspend(ctx, StateTriggered, events.TriggerActionNotTaken, action.ID, sender, nil), nil
	}

	r.emit(ctx, events.TriggerActionTaken, sender, map[string]any{"data": data.Data})

	return nil, data
}

func (r *Run) takePending() *TriggerData {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}

	data := r.pending[0]
	r.pending = r.pending[1:]

	return &data
}

func (r *Run) executeAction(ctx context.Context, action *models.Action, startArguments []models.Argument, instances *InstanceRepository) models.ActionResult {
	sender := actionSender(action, r.req.Workflow.ID)
	logger := r.logger.With("action_id", action.ID, "app", action.AppName, "action", action.ActionName)

	r.emit(ctx, events.ActionStarted, sender, nil)

	fail := func(eventType events.EventType, status string, err error) models.ActionResult {
		logger.ErrorContext(ctx, "Action failed", "error", err, "status", status)
		r.emit(ctx, eventType, sender, map[string]any{"error": err.Error(), "status": status})

		return models.ActionResult{Result: err.Error(), Status: status}
	}

	capability, err := r.executor.exec.Resolver.Resolve(protocol.KindAction, action.AppName, action.ActionName)
	if err != nil {
		return fail(events.ActionExecutionError, models.StatusUnhandledException, err)
	}

	accumulator := r.accumulatorView()

	bound, err := r.executor.exec.Validator.Bind(capability.Signature(), mergeArguments(action.Arguments, startArguments), accumulator)
	if err != nil {
		return fail(events.ActionArgumentsInvalid, models.StatusInvalidArguments, err)
	}

	var instance protocol.Instance

	if action.Device != nil {
		deviceID, err := resolveDevice(action.Device, accumulator)
		if err != nil {
			return fail(events.ActionArgumentsInvalid, models.StatusInvalidArguments, err)
		}

		instance, err = instances.Acquire(ctx, action.AppName, deviceID)
		if err != nil {
			return fail(events.ActionExecutionError, models.StatusUnhandledException, err)
		}
	}

	out, err := capability.Invoke(ctx, protocol.Call{
		ExecutionID: r.req.ExecutionID,
		Arguments:   bound,
		Instance:    instance,
	})
	if err != nil {
		return fail(events.ActionExecutionError, models.StatusUnhandledException, err)
	}

	result, ok := out.(models.ActionResult)
	if !ok {
		result = models.ActionResult{Result: out, Status: models.StatusSuccess}
	}

	if result.Status == "" {
		result.Status = models.StatusSuccess
	}

	logger.DebugContext(ctx, "Action executed", "status", result.Status)
	r.emit(ctx, events.ActionExecutionSuccess, sender, map[string]any{
		"result": result.Result,
		"status": result.Status,
	})

	return result
}

// executeChild runs a stored workflow to completion inside this run. Its
// lifecycle events are not forwarded; its result becomes the node's result.
func (r *Run) executeChild(ctx context.Context, child *models.ChildWorkflow) (models.ActionResult, bool) {
	sender := events.Sender{
		Type:       events.SenderChildWorkflow,
		ID:         child.ID,
		WorkflowID: r.req.Workflow.ID,
	}
	logger := r.logger.With("child_id", child.ID, "child_workflow_id", child.WorkflowID)

	r.emit(ctx, events.ActionStarted, sender, nil)

	fail := func(err error) (models.ActionResult, bool) {
		logger.ErrorContext(ctx, "Child workflow failed", "error", err)
		r.emit(ctx, events.ActionExecutionError, sender, map[string]any{
			"error":  err.Error(),
			"status": models.StatusUnhandledException,
		})

		return models.ActionResult{Result: err.Error(), Status: models.StatusUnhandledException}, false
	}

	if r.executor.exec.Workflows == nil {
		return fail(fmt.Errorf("no workflow source to load %s from", child.WorkflowID))
	}

	workflow, err := r.executor.exec.Workflows.FetchByID(ctx, child.WorkflowID)
	if err != nil {
		return fail(err)
	}

	if !Validate(workflow, r.executor.exec.Resolver) {
		return fail(fmt.Errorf("%w: %s", ErrInvalidWorkflow, workflow.ID))
	}

	accumulator := r.accumulatorView()
	arguments := make([]models.Argument, 0, len(child.Arguments))

	for _, argument := range child.Arguments {
		value, err := argument.Resolve(accumulator)
		if err != nil {
			return fail(err)
		}

		arguments = append(arguments, models.Argument{Name: argument.Name, Value: value})
	}

	nested := r.executor.NewRun(Request{
		ExecutionID:    r.req.ExecutionID,
		Workflow:       workflow,
		StartArguments: arguments,
	})
	nested.parent = r
	nested.emitter = childEmitter{next: r.emitter}

	result, err := nested.RunUntilSuspend(ctx)
	if err != nil {
		return fail(err)
	}

	switch result.State {
	case StateAborted:
		logger.InfoContext(ctx, "Child workflow aborted")

		return models.ActionResult{}, true
	case StateCompleted:
		r.emit(ctx, events.ActionExecutionSuccess, sender, map[string]any{
			"result": result.Value,
			"status": models.StatusSuccess,
		})

		return models.ActionResult{Result: result.Value, Status: models.StatusSuccess}, false
	default:
		return fail(fmt.Errorf("child workflow %s suspended (%s)", workflow.ID, result.State))
	}
}

// next picks the first branch, by priority, whose status matches the result
// and whose condition holds against it.
func (r *Run) next(ctx context.Context, nodeID string, result models.ActionResult) (string, models.DestinationKind) {
	var candidates []*models.Branch

	for _, branch := range r.req.Workflow.BranchesFrom(nodeID) {
		if branch.EffectiveStatus() == result.Status {
			candidates = append(candidates, branch)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].EffectivePriority() < candidates[j].EffectivePriority()
	})

	scope := conditions.Scope{ExecutionID: r.req.ExecutionID, WorkflowID: r.req.Workflow.ID}

	for _, branch := range candidates {
		r.countBranch(branch.ID)

		sender := events.Sender{
			Type:       events.SenderBranch,
			ID:         branch.ID,
			WorkflowID: r.req.Workflow.ID,
		}

		if r.executor.evaluator.Evaluate(ctx, scope, branch.Condition, result.Result, r.accumulatorView()) {
			r.emit(ctx, events.BranchTaken, sender, map[string]any{"destination_id": branch.DestinationID})

			return branch.DestinationID, branch.EffectiveDestinationKind()
		}

		r.emit(ctx, events.BranchNotTaken, sender, nil)
	}

	return "", ""
}

func (r *Run) countBranch(branchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int

	switch previous := r.accumulator[branchID].(type) {
	case int:
		count = previous
	case float64:
		count = int(previous)
	}

	r.accumulator[branchID] = count + 1
}

func (r *Run) nodeKind(nodeID string) models.DestinationKind {
	if _, ok := r.req.Workflow.ActionByID(nodeID); ok {
		return models.DestinationAction
	}

	if _, ok := r.req.Workflow.ChildWorkflowByID(nodeID); ok {
		return models.DestinationWorkflow
	}

	return models.DestinationAction
}

func (r *Run) setExecuting(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executing = nodeID
}

func (r *Run) snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.accumulator.Snapshot()
}

// accumulatorView returns a copy for readers outside the run loop.
func (r *Run) accumulatorView() models.Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.accumulator.Clone()
}

func (r *Run) workflowSender() events.Sender {
	return events.Sender{
		Type:       events.SenderWorkflow,
		ID:         r.req.Workflow.ID,
		Name:       r.req.Workflow.Name,
		WorkflowID: r.req.Workflow.ID,
	}
}

func (r *Run) emitWorkflow(ctx context.Context, eventType events.EventType, data map[string]any) {
	r.emit(ctx, eventType, r.workflowSender(), data)
}

func (r *Run) emit(ctx context.Context, eventType events.EventType, sender events.Sender, data map[string]any) {
	r.emitter.Emit(ctx, events.New(eventType, r.req.ExecutionID, sender, data))
}

// childEmitter drops a nested run's workflow lifecycle and suspension events
// so only the parent run reports start, suspension and completion.
type childEmitter struct {
	next protocol.Emitter
}

func (c childEmitter) Emit(ctx context.Context, event events.Event) {
	if event.Sender.Type == events.SenderWorkflow || event.Type.ReleasesExecution() {
		return
	}

	c.next.Emit(ctx, event)
}

func actionSender(action *models.Action, workflowID string) events.Sender {
	return events.Sender{
		Type:       events.SenderAction,
		ID:         action.ID,
		Name:       action.Name,
		AppName:    action.AppName,
		ActionName: action.ActionName,
		WorkflowID: workflowID,
	}
}

// mergeArguments overrides the action's arguments with same-named start arguments.
func mergeArguments(declared, overrides []models.Argument) []models.Argument {
	if len(overrides) == 0 {
		return declared
	}

	merged := make([]models.Argument, 0, len(declared)+len(overrides))
	replaced := make(map[string]struct{}, len(overrides))

	for _, argument := range overrides {
		replaced[argument.Name] = struct{}{}
	}

	for _, argument := range declared {
		if _, ok := replaced[argument.Name]; !ok {
			merged = append(merged, argument)
		}
	}

	return append(merged, overrides...)
}

func resolveDevice(device *models.Argument, accumulator models.Accumulator) (string, error) {
	value, err := device.Resolve(accumulator)
	if err != nil {
		return "", err
	}

	switch typed := value.(type) {
	case string:
		return typed, nil
	case float64, int, int64:
		return fmt.Sprint(typed), nil
	default:
		return "", fmt.Errorf("%w: device id must be a string or number, got %T", protocol.ErrInvalidArgument, value)
	}
}

func workflowID(workflow *models.Workflow) string {
	if workflow == nil {
		return ""
	}

	return workflow.ID
}
