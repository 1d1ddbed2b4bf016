package models

const (
	StatusSuccess            = "Success"
	StatusUnhandledException = "UnhandledException"
	StatusInvalidArguments   = "InvalidArguments"
	StatusTrigger            = "trigger"
)

// Action is one executable step bound to an app capability.
type Action struct {
	ID         string     `json:"id"                  yaml:"id"                  validate:"required"`
	Name       string     `json:"name"                yaml:"name"`
	AppName    string     `json:"app_name"            yaml:"app_name"            validate:"required"`
	ActionName string     `json:"action_name"         yaml:"action_name"         validate:"required"`
	Arguments  []Argument `json:"arguments,omitempty" yaml:"arguments,omitempty" validate:"dive"`
	Device     *Argument  `json:"device,omitempty"    yaml:"device,omitempty"`

	// IsTrigger marks the action as suspending the run until matching data is
	// supplied. Trigger optionally restricts which data matches.
	IsTrigger bool                   `json:"is_trigger,omitempty" yaml:"is_trigger,omitempty"`
	Trigger   *ConditionalExpression `json:"trigger,omitempty"    yaml:"trigger,omitempty"`
}

// ActionResult is the outcome of invoking an action or child workflow.
type ActionResult struct {
	Result any    `json:"result"`
	Status string `json:"status"`
}

// IsSuccess reports whether the result carries the Success status.
func (r ActionResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// ChildWorkflow is a graph node that runs another stored workflow to
// completion and records its result.
type ChildWorkflow struct {
	ID         string     `json:"id"                  yaml:"id"          validate:"required"`
	WorkflowID string     `json:"workflow_id"         yaml:"workflow_id" validate:"required"`
	Arguments  []Argument `json:"arguments,omitempty" yaml:"arguments,omitempty" validate:"dive"`
}
