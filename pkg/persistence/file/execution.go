package file

import (
	"context"
	"time"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
)

func (fp *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	err := fp.write(executionsDir, execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (fp *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	var execution models.Execution

	found, err := fp.read(executionsDir, id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (fp *Persistence) ExecutionsByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	ids, err := fp.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		var execution models.Execution

		found, err := fp.read(executionsDir, id, &execution)
		if err != nil {
			return nil, err
		}

		if found && execution.Status == status {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}
