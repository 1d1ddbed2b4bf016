// Package wire defines the messages exchanged between the dispatcher, workers
// and the results collector, and the watermill transport carrying them.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/go-playground/validator/v10"
)

const (
	MetadataMessageType = "message_type"
	MetadataExecutionID = "execution_id"

	ResultsTopic      = "walkoff.results"
	workerTopicPrefix = "walkoff.workers."
)

var ErrMalformedMessage = errors.New("malformed message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// WorkerTopic is the topic a worker receives requests and control messages on.
func WorkerTopic(workerID string) string {
	return workerTopicPrefix + workerID
}

type MessageType string

const (
	MessageExecuteWorkflow MessageType = "execute_workflow"
	MessageControl         MessageType = "control"
	MessageResultEvent     MessageType = "result_event"
)

// ExecuteWorkflow asks a worker to start or resume an execution. Workflow is
// embedded by the dispatcher when it has it; otherwise the worker loads it by id.
type ExecuteWorkflow struct {
	WorkflowID     string           `json:"workflow_id"               validate:"required"`
	ExecutionID    string           `json:"execution_id"              validate:"required"`
	StartActionID  string           `json:"start_action_id,omitempty"`
	StartArguments []Argument       `json:"start_arguments,omitempty" validate:"dive"`
	Resume         bool             `json:"resume"`
	Workflow       *models.Workflow `json:"workflow,omitempty"`
	Accumulator    map[string]any   `json:"accumulator,omitempty"`
	TriggerData    *TriggerData     `json:"trigger_data,omitempty"`
}

// TriggerData is data for a trigger action, with optional replacement arguments.
type TriggerData struct {
	Data      any        `json:"data"`
	Arguments []Argument `json:"arguments,omitempty" validate:"dive"`
}

type ControlType string

const (
	ControlPause    ControlType = "PAUSE"
	ControlResume   ControlType = "RESUME"
	ControlAbort    ControlType = "ABORT"
	ControlExit     ControlType = "EXIT"
	ControlSendData ControlType = "SEND_DATA"
)

// Control is a command for the execution a worker is running, or for the
// worker itself when Type is EXIT.
type Control struct {
	Type        ControlType  `json:"type"                   validate:"required,oneof=PAUSE RESUME ABORT EXIT SEND_DATA"`
	ExecutionID string       `json:"execution_id,omitempty" validate:"required_unless=Type EXIT"`
	Payload     *TriggerData `json:"payload,omitempty"      validate:"required_if=Type SEND_DATA"`
}

// ResultEvent is an engine event on its way to the results collector.
type ResultEvent struct {
	ID          string           `json:"id"`
	EventKind   events.EventType `json:"event_kind"   validate:"required"`
	Sender      events.Sender    `json:"sender"`
	ExecutionID string           `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id,omitempty"`
	WorkerID    string           `json:"worker_id,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

func ResultFromEvent(event events.Event) ResultEvent {
	return ResultEvent{
		ID:          event.ID,
		EventKind:   event.Type,
		Sender:      event.Sender,
		ExecutionID: event.ExecutionID,
		WorkflowID:  event.WorkflowID,
		WorkerID:    event.WorkerID,
		Payload:     event.Data,
		Timestamp:   event.Timestamp,
	}
}

func (r ResultEvent) ToEvent() events.Event {
	return events.Event{
		ID:          r.ID,
		Type:        r.EventKind,
		Timestamp:   r.Timestamp,
		ExecutionID: r.ExecutionID,
		WorkflowID:  r.WorkflowID,
		WorkerID:    r.WorkerID,
		Sender:      r.Sender,
		Data:        r.Payload,
	}
}

// RejectionPayload is the data of a control.rejected event for control.
func RejectionPayload(control Control) map[string]any {
	payload := map[string]any{"control": string(control.Type)}
	if control.Payload != nil {
		payload["trigger_data"] = control.Payload
	}

	return payload
}

// RejectedControl rebuilds the control message carried by a control.rejected
// event.
func RejectedControl(event events.Event) (*Control, error) {
	encoded, err := json.Marshal(map[string]any{
		"type":         event.Data["control"],
		"execution_id": event.ExecutionID,
		"payload":      event.Data["trigger_data"],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return DecodeControl(encoded)
}

func DecodeExecute(payload []byte) (*ExecuteWorkflow, error) {
	var request ExecuteWorkflow

	err := decode(payload, &request)
	if err != nil {
		return nil, err
	}

	return &request, nil
}

func DecodeControl(payload []byte) (*Control, error) {
	var control Control

	err := decode(payload, &control)
	if err != nil {
		return nil, err
	}

	return &control, nil
}

func DecodeResult(payload []byte) (*ResultEvent, error) {
	var result ResultEvent

	err := decode(payload, &result)
	if err != nil {
		return nil, err
	}

	if !result.EventKind.IsKnown() {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrMalformedMessage, result.EventKind)
	}

	return &result, nil
}

func decode(payload []byte, target any) error {
	err := json.Unmarshal(payload, target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	err = validate.Struct(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return nil
}
