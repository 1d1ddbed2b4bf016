package file

import (
	"context"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
)

func (fp *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	ids, err := fp.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		var workflow models.Workflow

		found, err := fp.read(workflowsDir, id, &workflow)
		if err != nil {
			return nil, err
		}

		if found {
			workflows = append(workflows, &workflow)
		}
	}

	return workflows, nil
}

func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := fp.write(workflowsDir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	var workflow models.Workflow

	found, err := fp.read(workflowsDir, id, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	workflow.Link()

	return &workflow, nil
}

func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	found, err := fp.remove(workflowsDir, id)
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	if !found {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
