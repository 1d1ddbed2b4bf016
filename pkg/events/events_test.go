package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	sender := Sender{Type: SenderAction, ID: "a1", WorkflowID: "wf-1"}
	event := New(ActionStarted, "exec-1", sender, map[string]any{"k": "v"})

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, ActionStarted, event.GetType())
}

func TestEventType_Classification(t *testing.T) {
	tests := []struct {
		eventType  EventType
		completion bool
		suspension bool
	}{
		{eventType: WorkflowShutdown, completion: true},
		{eventType: WorkflowAborted, completion: true},
		{eventType: WorkflowPaused, suspension: true},
		{eventType: TriggerActionAwaitingData, suspension: true},
		{eventType: TriggerActionNotTaken, suspension: true},
		{eventType: ActionStarted},
		{eventType: WorkflowResumed},
		{eventType: ControlRejected},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.True(t, tt.eventType.IsKnown())
			assert.Equal(t, tt.completion, tt.eventType.IsCompletion())
			assert.Equal(t, tt.suspension, tt.eventType.IsSuspension())
			assert.Equal(t, tt.completion || tt.suspension, tt.eventType.ReleasesExecution())
		})
	}

	assert.False(t, EventType("made.up").IsKnown())
}
