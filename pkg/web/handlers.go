package web

import (
	"context"
	"net/http"
	"time"

	"github.com/99scratch/WALKOFF/pkg/dispatcher"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// Controller is the execution control surface of the dispatcher.
type Controller interface {
	Submit(ctx context.Context, req dispatcher.SubmitRequest) (string, error)
	Pause(ctx context.Context, executionID string) (bool, error)
	Resume(ctx context.Context, executionID string) (bool, error)
	Abort(ctx context.Context, executionID string) (bool, error)
	SendDataToTrigger(ctx context.Context, data any, executionIDs []string, arguments []models.Argument) ([]string, error)
	WaitingExecutions(ctx context.Context) ([]*models.Execution, error)
	Snapshot(ctx context.Context) (dispatcher.Snapshot, error)
}

type ExecutionReader interface {
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
}

type APIHandlers struct {
	workflows  *workflow.Repository
	executions ExecutionReader
	control    Controller
	validator  *validator.Validate
	registry   *registry.Registry
}

func NewAPIHandlers(
	workflows *workflow.Repository,
	executions ExecutionReader,
	control Controller,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflows:  workflows,
		executions: executions,
		control:    control,
		validator:  validator,
		registry:   registry,
	}
}

// Routes registers every endpoint on app.
func (h *APIHandlers) Routes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.SaveWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)

	e := app.Group("/executions")
	e.Post("/", h.SubmitExecution)
	e.Get("/waiting", h.WaitingExecutions)
	e.Post("/trigger-data", h.SendDataToTrigger)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/abort", h.AbortExecution)

	app.Get("/workers", h.GetWorkers)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.FetchAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	wf, err := h.workflows.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

// SaveWorkflow stores a workflow definition. The response carries the
// validation outcome; invalid workflows are stored but cannot be executed.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var wf models.Workflow
	if err := c.Bind().JSON(&wf); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	saved, err := h.workflows.Save(c.Context(), &wf, h.registry)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflows.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SubmitExecution(c fiber.Ctx) error {
	var req SubmitExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.control.Submit(c.Context(), dispatcher.SubmitRequest{
		WorkflowID:     req.WorkflowID,
		Workflow:       req.Workflow,
		ExecutionID:    req.ExecutionID,
		StartActionID:  req.StartActionID,
		StartArguments: req.StartArguments,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionResponse{ExecutionID: executionID})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) WaitingExecutions(c fiber.Ctx) error {
	executions, err := h.control.WaitingExecutions(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.controlExecution(c, h.control.Pause, "execution is not running")
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.controlExecution(c, h.control.Resume, "execution is not paused")
}

func (h *APIHandlers) AbortExecution(c fiber.Ctx) error {
	return h.controlExecution(c, h.control.Abort, "execution is not running or suspended")
}

func (h *APIHandlers) controlExecution(c fiber.Ctx, operation func(context.Context, string) (bool, error), refused string) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	ok, err := operation(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !ok {
		return conflict(c, refused)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionResponse{ExecutionID: id})
}

func (h *APIHandlers) SendDataToTrigger(c fiber.Ctx) error {
	var req SendDataRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	delivered, err := h.control.SendDataToTrigger(c.Context(), req.Data, req.ExecutionIDs, req.Arguments)
	if err != nil {
		return handleServiceError(c, err)
	}

	if delivered == nil {
		delivered = []string{}
	}

	return c.JSON(SendDataResponse{Delivered: delivered})
}

func (h *APIHandlers) GetWorkers(c fiber.Ctx) error {
	snapshot, err := h.control.Snapshot(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "WALKOFF API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "WALKOFF API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
