package workflow

import (
	"context"
	"fmt"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/protocol"
)

// Fetcher loads stored workflows by id.
type Fetcher interface {
	FetchByID(ctx context.Context, id string) (*models.Workflow, error)
}

type Repository struct {
	persistence persistence.Persistence
}

func NewRepository(persistence persistence.Persistence) *Repository {
	return &Repository{
		persistence: persistence,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.persistence.Workflows(ctx)
	if err != nil {
		return make([]*models.Workflow, 0), err
	}

	return workflows, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := r.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("FetchByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Save validates the workflow against the resolver and stores it. Invalid
// workflows are stored too, with IsValid false and their errors recorded.
func (r *Repository) Save(ctx context.Context, workflow *models.Workflow, resolver protocol.CapabilityResolver) (*models.Workflow, error) {
	Validate(workflow, resolver)

	err := r.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.persistence.DeleteWorkflow(ctx, id)
}
