package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
)

// Workflows returns all workflows from the database.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, definition FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		var (
			id         string
			definition []byte
		)

		err := rows.Scan(&id, &definition)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflow, err := decodeWorkflow(id, definition)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, rows.Err()
}

// SaveWorkflow inserts or replaces a workflow definition.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (id, name, definition, is_valid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			is_valid = EXCLUDED.is_valid,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query, workflow.ID, workflow.Name, definition, workflow.IsValid)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

// WorkflowByID returns a workflow by its ID.
func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	var definition []byte

	err := p.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = $1`, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	return decodeWorkflow(id, definition)
}

// DeleteWorkflow removes a workflow by its ID.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func decodeWorkflow(id string, definition []byte) (*models.Workflow, error) {
	var workflow models.Workflow

	err := json.Unmarshal(definition, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("decode", id, err)
	}

	workflow.Link()

	return &workflow, nil
}
