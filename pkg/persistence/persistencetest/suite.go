// Package persistencetest holds the behaviour every persistence.Persistence
// implementation must share.
package persistencetest

import (
	"testing"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Workflow returns a small valid workflow with the given id.
func Workflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:    id,
		Name:  "Workflow " + id,
		Start: "a",
		Actions: []*models.Action{
			{
				ID:         "a",
				AppName:    "builtin",
				ActionName: "echo",
				Arguments:  []models.Argument{{Name: "value", Value: "hello"}},
			},
			{
				ID:         "b",
				AppName:    "builtin",
				ActionName: "echo",
				Arguments:  []models.Argument{{Name: "value", Reference: "a"}},
			},
		},
		Branches: []*models.Branch{{
			ID:            "a-b",
			SourceID:      "a",
			DestinationID: "b",
			Condition: &models.ConditionalExpression{
				ID:       "root",
				Operator: models.OperatorOr,
				Children: []*models.ConditionalExpression{{ID: "child", IsNegated: true}},
			},
		}},
		IsValid: true,
	}
}

// Run exercises the workflow and execution operations against p.
func Run(t *testing.T, p persistence.Persistence) {
	t.Helper()

	t.Run("health check", func(t *testing.T) {
		require.NoError(t, p.HealthCheck(t.Context()))
	})

	t.Run("save and load workflow", func(t *testing.T) {
		workflow := Workflow("wf-save")

		require.NoError(t, p.SaveWorkflow(t.Context(), workflow))

		loaded, err := p.WorkflowByID(t.Context(), "wf-save")
		require.NoError(t, err)

		assert.Equal(t, workflow.Name, loaded.Name)
		assert.Equal(t, workflow.Start, loaded.Start)
		require.Len(t, loaded.Actions, 2)
		assert.Equal(t, "hello", loaded.Actions[0].Arguments[0].Value)
		assert.Equal(t, "a", loaded.Actions[1].Arguments[0].Reference)
		require.Len(t, loaded.Branches, 1)
		assert.Equal(t, models.OperatorOr, loaded.Branches[0].Condition.Operator)
		assert.Equal(t, "root", loaded.Branches[0].Condition.Children[0].ParentID)
		assert.True(t, loaded.IsValid)
	})

	t.Run("save overwrites workflow", func(t *testing.T) {
		workflow := Workflow("wf-overwrite")
		require.NoError(t, p.SaveWorkflow(t.Context(), workflow))

		workflow.Name = "renamed"
		require.NoError(t, p.SaveWorkflow(t.Context(), workflow))

		loaded, err := p.WorkflowByID(t.Context(), "wf-overwrite")
		require.NoError(t, err)
		assert.Equal(t, "renamed", loaded.Name)
	})

	t.Run("missing workflow", func(t *testing.T) {
		_, err := p.WorkflowByID(t.Context(), "wf-missing")
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("list and delete workflows", func(t *testing.T) {
		require.NoError(t, p.SaveWorkflow(t.Context(), Workflow("wf-list-1")))
		require.NoError(t, p.SaveWorkflow(t.Context(), Workflow("wf-list-2")))

		workflows, err := p.Workflows(t.Context())
		require.NoError(t, err)

		ids := make([]string, 0, len(workflows))
		for _, workflow := range workflows {
			ids = append(ids, workflow.ID)
		}

		assert.Contains(t, ids, "wf-list-1")
		assert.Contains(t, ids, "wf-list-2")

		require.NoError(t, p.DeleteWorkflow(t.Context(), "wf-list-1"))

		_, err = p.WorkflowByID(t.Context(), "wf-list-1")
		assert.True(t, persistence.IsWorkflowNotFound(err))

		err = p.DeleteWorkflow(t.Context(), "wf-list-1")
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("save and load execution", func(t *testing.T) {
		execution := &models.Execution{
			ID:         "exec-1",
			WorkflowID: "wf-save",
			Status:     models.ExecutionStatusPaused,
			Checkpoint: &models.Checkpoint{
				WorkflowID:  "wf-save",
				ActionID:    "b",
				Accumulator: map[string]any{"a": "hello"},
			},
		}

		require.NoError(t, p.SaveExecution(t.Context(), execution))
		assert.False(t, execution.CreatedAt.IsZero())

		loaded, err := p.ExecutionByID(t.Context(), "exec-1")
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusPaused, loaded.Status)
		require.NotNil(t, loaded.Checkpoint)
		assert.Equal(t, "b", loaded.Checkpoint.ActionID)
		assert.Equal(t, "hello", loaded.Checkpoint.Accumulator["a"])
	})

	t.Run("executions by status follow updates", func(t *testing.T) {
		execution := &models.Execution{ID: "exec-status", WorkflowID: "wf-save", Status: models.ExecutionStatusRunning}
		require.NoError(t, p.SaveExecution(t.Context(), execution))

		running, err := p.ExecutionsByStatus(t.Context(), models.ExecutionStatusRunning)
		require.NoError(t, err)
		assert.True(t, containsExecution(running, "exec-status"))

		execution.Status = models.ExecutionStatusCompleted
		require.NoError(t, p.SaveExecution(t.Context(), execution))

		running, err = p.ExecutionsByStatus(t.Context(), models.ExecutionStatusRunning)
		require.NoError(t, err)
		assert.False(t, containsExecution(running, "exec-status"))

		completed, err := p.ExecutionsByStatus(t.Context(), models.ExecutionStatusCompleted)
		require.NoError(t, err)
		assert.True(t, containsExecution(completed, "exec-status"))
	})

	t.Run("missing execution", func(t *testing.T) {
		_, err := p.ExecutionByID(t.Context(), "exec-missing")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})
}

func containsExecution(executions []*models.Execution, id string) bool {
	for _, execution := range executions {
		if execution.ID == id {
			return true
		}
	}

	return false
}
