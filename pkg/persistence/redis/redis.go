// Package redis provides a Redis backed persistence implementation. Records
// are stored as JSON strings; sets index workflow ids and execution statuses.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "walkoff"

type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewPersistence connects to the Redis server at url (redis://host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
		prefix: defaultPrefix,
	}
}

func (p *Persistence) workflowKey(id string) string {
	return p.prefix + ":workflow:" + id
}

func (p *Persistence) workflowsKey() string {
	return p.prefix + ":workflows"
}

func (p *Persistence) executionKey(id string) string {
	return p.prefix + ":execution:" + id
}

func (p *Persistence) statusKey(status models.ExecutionStatus) string {
	return p.prefix + ":executions:" + string(status)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := p.client.SMembers(ctx, p.workflowsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.Strings(ids)

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := p.WorkflowByID(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.workflowKey(workflow.ID), data, 0)
		pipe.SAdd(ctx, p.workflowsKey(), workflow.ID)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	data, err := p.client.Get(ctx, p.workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	workflow.Link()

	return &workflow, nil
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, p.workflowKey(id))
		pipe.SRem(ctx, p.workflowsKey(), id)

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	previous, err := p.ExecutionByID(ctx, execution.ID)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
		if previous != nil {
			execution.CreatedAt = previous.CreatedAt
		}
	}

	execution.UpdatedAt = now

	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Status != execution.Status {
			pipe.SRem(ctx, p.statusKey(previous.Status), execution.ID)
		}

		pipe.Set(ctx, p.executionKey(execution.ID), data, 0)
		pipe.SAdd(ctx, p.statusKey(execution.Status), execution.ID)

		return nil
	})
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := p.client.Get(ctx, p.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	var execution models.Execution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return &execution, nil
}

func (p *Persistence) ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	ids, err := p.client.SMembers(ctx, p.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s executions: %w", status, err)
	}

	sort.Strings(ids)

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := p.ExecutionByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if execution.Status == status {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}
