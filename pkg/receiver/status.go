package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
)

// StatusRecorder keeps persisted execution records in step with lifecycle events.
type StatusRecorder struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewStatusRecorder(persistence persistence.Persistence, logger *slog.Logger) *StatusRecorder {
	return &StatusRecorder{
		persistence: persistence,
		logger:      logger.With("module", "status_recorder"),
	}
}

// Register subscribes the recorder to every event on the bus.
func (r *StatusRecorder) Register(bus eventbus.EventSubscriber) error {
	return bus.HandleAll(r.Record)
}

// Record applies one event to the execution it belongs to. Events that do not
// change the lifecycle are ignored.
func (r *StatusRecorder) Record(ctx context.Context, event events.Event) error {
	if event.ExecutionID == "" {
		return nil
	}

	status, ok := statusFor(event)
	if !ok {
		return nil
	}

	execution, err := r.persistence.ExecutionByID(ctx, event.ExecutionID)
	if err != nil {
		if !persistence.IsExecutionNotFound(err) {
			return fmt.Errorf("failed to load execution %s: %w", event.ExecutionID, err)
		}

		execution = &models.Execution{
			ID:         event.ExecutionID,
			WorkflowID: event.WorkflowID,
		}
	}

	if execution.WorkflowID == "" {
		execution.WorkflowID = event.WorkflowID
	}

	if execution.Status == models.ExecutionStatusAborted && status == models.ExecutionStatusCompleted {
		return nil
	}

	execution.Status = status

	switch status {
	case models.ExecutionStatusPaused, models.ExecutionStatusAwaitingData:
		checkpoint, err := checkpointFrom(event.Data)
		if err != nil {
			r.logger.WarnContext(ctx, "Event carries an unreadable checkpoint", "error", err, "execution_id", event.ExecutionID)
		}

		execution.Checkpoint = checkpoint
	case models.ExecutionStatusCompleted, models.ExecutionStatusAborted:
		execution.Checkpoint = nil

		if message, ok := event.Data["error"].(string); ok {
			execution.Error = message
		}
	default:
		execution.Checkpoint = nil
	}

	err = r.persistence.SaveExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	r.logger.DebugContext(ctx, "Recorded execution status", "execution_id", execution.ID, "status", status)

	return nil
}

func statusFor(event events.Event) (models.ExecutionStatus, bool) {
	switch event.Type {
	case events.WorkflowExecutionPending, events.WorkflowResumed:
		return models.ExecutionStatusPending, true
	case events.WorkflowExecutionStart:
		return models.ExecutionStatusRunning, true
	case events.WorkflowPaused:
		return models.ExecutionStatusPaused, true
	case events.TriggerActionAwaitingData, events.TriggerActionNotTaken:
		return models.ExecutionStatusAwaitingData, true
	case events.WorkflowAborted:
		return models.ExecutionStatusAborted, true
	case events.WorkflowShutdown:
		if event.Data["status"] == string(models.ExecutionStatusAborted) {
			return models.ExecutionStatusAborted, true
		}

		return models.ExecutionStatusCompleted, true
	default:
		return "", false
	}
}

func checkpointFrom(data map[string]any) (*models.Checkpoint, error) {
	raw, ok := data["checkpoint"]
	if !ok || raw == nil {
		return nil, nil
	}

	if checkpoint, ok := raw.(*models.Checkpoint); ok {
		return checkpoint, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var checkpoint models.Checkpoint

	err = json.Unmarshal(encoded, &checkpoint)
	if err != nil {
		return nil, err
	}

	return &checkpoint, nil
}
