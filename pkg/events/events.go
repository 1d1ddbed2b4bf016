// Package events defines the lifecycle and result events produced while
// workflows are dispatched and executed.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	// Workflow lifecycle.
	WorkflowExecutionPending EventType = "workflow.execution.pending"
	WorkflowExecutionStart   EventType = "workflow.execution.start"
	WorkflowPaused           EventType = "workflow.paused"
	WorkflowResumed          EventType = "workflow.resumed"
	WorkflowAborted          EventType = "workflow.aborted"
	WorkflowShutdown         EventType = "workflow.shutdown"

	// Triggers.
	TriggerActionAwaitingData EventType = "trigger.awaiting_data"
	TriggerActionTaken        EventType = "trigger.taken"
	TriggerActionNotTaken     EventType = "trigger.not_taken"

	// Actions.
	ActionStarted          EventType = "action.started"
	ActionExecutionSuccess EventType = "action.execution.success"
	ActionExecutionError   EventType = "action.execution.error"
	ActionArgumentsInvalid EventType = "action.arguments.invalid"

	// Branches and conditions.
	BranchTaken                EventType = "branch.taken"
	BranchNotTaken             EventType = "branch.not_taken"
	ConditionalExpressionTrue  EventType = "conditional_expression.true"
	ConditionalExpressionFalse EventType = "conditional_expression.false"
	ConditionSuccess           EventType = "condition.success"
	ConditionError             EventType = "condition.error"
	TransformSuccess           EventType = "transform.success"
	TransformError             EventType = "transform.error"

	// Workers.
	WorkerReady EventType = "worker.ready"
	// ControlRejected reports a control message for an execution the worker
	// no longer runs. The data carries the control so it can be applied to
	// the suspended execution instead.
	ControlRejected EventType = "control.rejected"
)

var knownTypes = map[EventType]struct{}{
	WorkflowExecutionPending: {}, WorkflowExecutionStart: {}, WorkflowPaused: {},
	WorkflowResumed: {}, WorkflowAborted: {}, WorkflowShutdown: {},
	TriggerActionAwaitingData: {}, TriggerActionTaken: {}, TriggerActionNotTaken: {},
	ActionStarted: {}, ActionExecutionSuccess: {}, ActionExecutionError: {}, ActionArgumentsInvalid: {},
	BranchTaken: {}, BranchNotTaken: {},
	ConditionalExpressionTrue: {}, ConditionalExpressionFalse: {},
	ConditionSuccess: {}, ConditionError: {}, TransformSuccess: {}, TransformError: {},
	WorkerReady: {}, ControlRejected: {},
}

// IsKnown reports whether t is one of the declared event types.
func (t EventType) IsKnown() bool {
	_, ok := knownTypes[t]

	return ok
}

// IsCompletion reports whether the event ends an execution for good.
func (t EventType) IsCompletion() bool {
	return t == WorkflowShutdown || t == WorkflowAborted
}

// IsSuspension reports whether the event leaves an execution resumable.
func (t EventType) IsSuspension() bool {
	return t == WorkflowPaused || t == TriggerActionAwaitingData || t == TriggerActionNotTaken
}

// ReleasesExecution reports whether the worker running the execution is done with it.
func (t EventType) ReleasesExecution() bool {
	return t.IsCompletion() || t.IsSuspension()
}

type SenderType string

const (
	SenderWorkflow              SenderType = "workflow"
	SenderAction                SenderType = "action"
	SenderChildWorkflow         SenderType = "child_workflow"
	SenderBranch                SenderType = "branch"
	SenderConditionalExpression SenderType = "conditional_expression"
	SenderCondition             SenderType = "condition"
	SenderTransform             SenderType = "transform"
	SenderWorker                SenderType = "worker"
	SenderDispatcher            SenderType = "dispatcher"
)

// Sender describes the element that produced an event.
type Sender struct {
	Type       SenderType `json:"type"`
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	AppName    string     `json:"app_name,omitempty"`
	ActionName string     `json:"action_name,omitempty"`
	WorkflowID string     `json:"workflow_id,omitempty"`
}

type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Sender      Sender         `json:"sender"`
	Data        map[string]any `json:"data,omitempty"`
}

func New(eventType EventType, executionID string, sender Sender, data map[string]any) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		WorkflowID:  sender.WorkflowID,
		Sender:      sender,
		Data:        data,
	}
}

func (e Event) GetType() EventType {
	return e.Type
}
