package models

// DestinationKind tells whether a branch leads to an action or a child workflow.
type DestinationKind string

const (
	DestinationAction   DestinationKind = "action"
	DestinationWorkflow DestinationKind = "workflow"
)

// DefaultBranchPriority is used when a branch does not declare one.
const DefaultBranchPriority = 999

// Branch is a priority ordered, condition gated edge between graph nodes.
type Branch struct {
	ID              string                 `json:"id"                         yaml:"id"             validate:"required"`
	SourceID        string                 `json:"source_id"                  yaml:"source_id"      validate:"required"`
	DestinationID   string                 `json:"destination_id"             yaml:"destination_id" validate:"required"`
	DestinationKind DestinationKind        `json:"destination_kind,omitempty" yaml:"destination_kind,omitempty" validate:"omitempty,oneof=action workflow"`
	Status          string                 `json:"status,omitempty"           yaml:"status,omitempty"`
	Priority        *int                   `json:"priority,omitempty"         yaml:"priority,omitempty"`
	Condition       *ConditionalExpression `json:"condition,omitempty"        yaml:"condition,omitempty"`
}

// EffectivePriority returns the declared priority or DefaultBranchPriority.
func (b *Branch) EffectivePriority() int {
	if b.Priority == nil {
		return DefaultBranchPriority
	}

	return *b.Priority
}

// EffectiveStatus returns the source status this branch is gated on.
func (b *Branch) EffectiveStatus() string {
	if b.Status == "" {
		return StatusSuccess
	}

	return b.Status
}

// EffectiveDestinationKind defaults to DestinationAction.
func (b *Branch) EffectiveDestinationKind() DestinationKind {
	if b.DestinationKind == "" {
		return DestinationAction
	}

	return b.DestinationKind
}
