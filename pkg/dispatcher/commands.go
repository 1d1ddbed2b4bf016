package dispatcher

import (
	"fmt"

	"github.com/99scratch/WALKOFF/pkg/wire"
)

type commandKind int

const (
	commandExecute commandKind = iota
	commandPause
	commandAbort
	commandSendData
	commandExit
	commandWorkerReady
	commandWorkerLost
	commandReleased
	commandSnapshot
	commandScheduled
)

func (k commandKind) String() string {
	switch k {
	case commandExecute:
		return "execute"
	case commandPause:
		return "pause"
	case commandAbort:
		return "abort"
	case commandSendData:
		return "send_data"
	case commandExit:
		return "exit"
	case commandWorkerReady:
		return "worker_ready"
	case commandWorkerLost:
		return "worker_lost"
	case commandReleased:
		return "released"
	case commandSnapshot:
		return "snapshot"
	case commandScheduled:
		return "scheduled"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// outcome is how the loop disposed of a command.
type outcome int

const (
	outcomeNotFound outcome = iota
	outcomeQueued
	outcomeForwarded
	outcomeDropped
	outcomeFailed
	// outcomeScheduled means the execution is already queued or owned.
	outcomeScheduled
)

type reply struct {
	outcome  outcome
	snapshot Snapshot
}

type command struct {
	kind        commandKind
	executionID string
	workerID    string
	request     *wire.ExecuteWorkflow
	payload     *wire.TriggerData
	reply       chan reply
}

// WorkerStatus describes one registered worker.
type WorkerStatus struct {
	ID          string `json:"id"`
	Alive       bool   `json:"alive"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Snapshot is a copy of the dispatcher's routing state.
type Snapshot struct {
	Workers []WorkerStatus    `json:"workers"`
	Queued  []string          `json:"queued"`
	Owners  map[string]string `json:"owners"`
}
