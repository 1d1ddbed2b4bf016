package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	fp := NewPersistence("./test-data")
	assert.NoError(t, fp.Close(t.Context()))
}

func TestPersistence_Suite(t *testing.T) {
	persistencetest.Run(t, NewPersistence(t.TempDir()))
}

func TestPersistence_SaveWorkflowWritesFile(t *testing.T) {
	testDir := t.TempDir()
	fp := NewPersistence(testDir)

	err := fp.SaveWorkflow(t.Context(), persistencetest.Workflow("test-workflow"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(testDir, "workflows", "test-workflow.json"))
}

func TestPersistence_RejectsUnsafeIDs(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	for _, id := range []string{"", "../escape", "a/b", "a\\b"} {
		err := fp.SaveWorkflow(t.Context(), &models.Workflow{ID: id, Name: "bad"})
		assert.ErrorIs(t, err, persistence.ErrInvalidID, id)

		err = fp.SaveExecution(t.Context(), &models.Execution{ID: id, WorkflowID: "wf", Status: models.ExecutionStatusPending})
		assert.ErrorIs(t, err, persistence.ErrInvalidID, id)
	}
}

func TestPersistence_HealthCheckMissingRoot(t *testing.T) {
	fp := NewPersistence(filepath.Join(t.TempDir(), "missing"))

	err := fp.HealthCheck(t.Context())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistence_EmptyListings(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	workflows, err := fp.Workflows(t.Context())
	require.NoError(t, err)
	assert.Empty(t, workflows)

	executions, err := fp.ExecutionsByStatus(t.Context(), models.ExecutionStatusPaused)
	require.NoError(t, err)
	assert.Empty(t, executions)
}
