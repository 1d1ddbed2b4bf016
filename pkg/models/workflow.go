// Package models defines the workflow graph and execution records.
package models

import (
	"errors"
	"fmt"
)

// Workflow is a graph of actions and child workflows joined by branches.
type Workflow struct {
	ID             string           `json:"id"                        yaml:"id"   validate:"required"`
	Name           string           `json:"name"                      yaml:"name" validate:"required"`
	Start          string           `json:"start,omitempty"           yaml:"start,omitempty"`
	Actions        []*Action        `json:"actions"                   yaml:"actions"  validate:"dive"`
	Branches       []*Branch        `json:"branches,omitempty"        yaml:"branches,omitempty" validate:"dive"`
	ChildWorkflows []*ChildWorkflow `json:"child_workflows,omitempty" yaml:"child_workflows,omitempty" validate:"dive"`

	IsValid bool     `json:"is_valid"         yaml:"-"`
	Errors  []string `json:"errors,omitempty" yaml:"-"`
}

var (
	ErrStartMissing  = errors.New("workflow has actions but no start action")
	ErrStartNotFound = errors.New("start action not found")
	ErrNodeNotFound  = errors.New("node not found")
)

// ActionByID returns the action with the given id.
func (w *Workflow) ActionByID(id string) (*Action, bool) {
	for _, action := range w.Actions {
		if action.ID == id {
			return action, true
		}
	}

	return nil, false
}

// ChildWorkflowByID returns the child workflow node with the given id.
func (w *Workflow) ChildWorkflowByID(id string) (*ChildWorkflow, bool) {
	for _, child := range w.ChildWorkflows {
		if child.ID == id {
			return child, true
		}
	}

	return nil, false
}

// BranchesFrom returns the branches whose source is the given node, in
// declaration order.
func (w *Workflow) BranchesFrom(sourceID string) []*Branch {
	var branches []*Branch

	for _, branch := range w.Branches {
		if branch.SourceID == sourceID {
			branches = append(branches, branch)
		}
	}

	return branches
}

// Link sets parent ids on every conditional expression in the workflow.
func (w *Workflow) Link() {
	for _, branch := range w.Branches {
		if branch.Condition != nil {
			branch.Condition.Link()
		}
	}

	for _, action := range w.Actions {
		if action.Trigger != nil {
			action.Trigger.Link()
		}
	}
}

// StructuralErrors checks the graph invariants: start node, branch endpoints
// and argument exclusivity.
func (w *Workflow) StructuralErrors() []error {
	var errs []error

	if len(w.Actions) > 0 {
		if w.Start == "" {
			errs = append(errs, ErrStartMissing)
		} else if _, ok := w.ActionByID(w.Start); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrStartNotFound, w.Start))
		}
	}

	for _, branch := range w.Branches {
		if !w.hasNode(branch.SourceID) {
			errs = append(errs, fmt.Errorf("branch %s source: %w: %s", branch.ID, ErrNodeNotFound, branch.SourceID))
		}

		switch branch.EffectiveDestinationKind() {
		case DestinationWorkflow:
			if _, ok := w.ChildWorkflowByID(branch.DestinationID); !ok {
				errs = append(errs, fmt.Errorf("branch %s destination: %w: %s", branch.ID, ErrNodeNotFound, branch.DestinationID))
			}
		default:
			if _, ok := w.ActionByID(branch.DestinationID); !ok {
				errs = append(errs, fmt.Errorf("branch %s destination: %w: %s", branch.ID, ErrNodeNotFound, branch.DestinationID))
			}
		}
	}

	for _, action := range w.Actions {
		errs = append(errs, argumentErrors(action.Arguments)...)

		if action.Device != nil {
			errs = append(errs, argumentErrors([]Argument{*action.Device})...)
		}
	}

	for _, child := range w.ChildWorkflows {
		errs = append(errs, argumentErrors(child.Arguments)...)
	}

	return errs
}

// SetValidation records the outcome of a validation pass.
func (w *Workflow) SetValidation(errs []error) {
	w.Errors = make([]string, 0, len(errs))
	for _, err := range errs {
		w.Errors = append(w.Errors, err.Error())
	}

	w.IsValid = len(errs) == 0
}

func (w *Workflow) hasNode(id string) bool {
	if _, ok := w.ActionByID(id); ok {
		return true
	}

	_, ok := w.ChildWorkflowByID(id)

	return ok
}

func argumentErrors(arguments []Argument) []error {
	var errs []error

	for _, argument := range arguments {
		err := argument.Validate()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
