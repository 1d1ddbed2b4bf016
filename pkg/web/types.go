// Package web provides the HTTP control API: workflow storage and execution
// control on top of the dispatcher.
package web

import "github.com/99scratch/WALKOFF/pkg/models"

// SubmitExecutionRequest is the body of POST /executions. Either WorkflowID
// or Workflow must be set.
type SubmitExecutionRequest struct {
	WorkflowID     string            `json:"workflow_id"               validate:"required_without=Workflow"`
	Workflow       *models.Workflow  `json:"workflow,omitempty"        validate:"required_without=WorkflowID"`
	ExecutionID    string            `json:"execution_id,omitempty"`
	StartActionID  string            `json:"start_action_id,omitempty"`
	StartArguments []models.Argument `json:"start_arguments,omitempty" validate:"dive"`
}

// SendDataRequest is the body of POST /executions/trigger-data.
type SendDataRequest struct {
	Data         any               `json:"data"`
	ExecutionIDs []string          `json:"execution_ids"       validate:"required,min=1,dive,required"`
	Arguments    []models.Argument `json:"arguments,omitempty" validate:"dive"`
}

type ExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

type SendDataResponse struct {
	Delivered []string `json:"delivered"`
}
