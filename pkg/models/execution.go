package models

import (
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending      ExecutionStatus = "pending"
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusPaused       ExecutionStatus = "paused"
	ExecutionStatusAwaitingData ExecutionStatus = "awaiting_data"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusAborted      ExecutionStatus = "aborted"
)

// IsTerminal reports whether no further execution can happen.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusAborted
}

// Accumulator maps node and branch ids to their last produced value.
type Accumulator map[string]any

// Snapshot returns a plain map copy safe to hand to other goroutines.
func (a Accumulator) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(a))
	maps.Copy(snapshot, a)

	return snapshot
}

// Clone returns a shallow copy.
func (a Accumulator) Clone() Accumulator {
	if a == nil {
		return Accumulator{}
	}

	return maps.Clone(a)
}

// Checkpoint is what a suspended run needs to be resumed: the workflow, the
// node to start from and the accumulator at the time of suspension.
type Checkpoint struct {
	WorkflowID  string         `json:"workflow_id"`
	ActionID    string         `json:"action_id"`
	Accumulator map[string]any `json:"accumulator,omitempty"`
}

// Execution is the persisted record of one workflow run.
type Execution struct {
	ID         string          `json:"id"          validate:"required"`
	WorkflowID string          `json:"workflow_id" validate:"required"`
	Status     ExecutionStatus `json:"status"      validate:"required"`
	Checkpoint *Checkpoint     `json:"checkpoint,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
