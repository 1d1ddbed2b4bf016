package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
)

const executionColumns = `id, workflow_id, status, checkpoint, error, created_at, updated_at`

// SaveExecution upserts an execution, keeping its original creation time.
func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	var checkpoint []byte

	if execution.Checkpoint != nil {
		var err error

		checkpoint, err = json.Marshal(execution.Checkpoint)
		if err != nil {
			return persistence.NewExecutionError("SaveExecution", execution.ID, err)
		}
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			checkpoint = EXCLUDED.checkpoint,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		nullableJSON(checkpoint),
		execution.Error,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return execution, nil
}

func (p *Persistence) ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE status = $1 ORDER BY created_at, id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution  models.Execution
		status     string
		checkpoint []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&status,
		&checkpoint,
		&execution.Error,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if len(checkpoint) > 0 {
		execution.Checkpoint = &models.Checkpoint{}

		err = json.Unmarshal(checkpoint, execution.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	}

	return &execution, nil
}

func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}

	return data
}
