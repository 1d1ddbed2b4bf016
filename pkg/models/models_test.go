package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgument_Validate(t *testing.T) {
	_, err := NewValueArgument("a", 1)
	require.NoError(t, err)

	_, err = NewReferenceArgument("a", "step", "result")
	require.NoError(t, err)

	err = Argument{Name: "a", Value: 1, Reference: "step"}.Validate()
	assert.ErrorIs(t, err, ErrArgumentValueAndReference)

	err = Argument{Name: "a"}.Validate()
	assert.ErrorIs(t, err, ErrArgumentEmpty)
}

func TestArgument_Resolve(t *testing.T) {
	type payload struct {
		Items []string `json:"items"`
	}

	accumulator := Accumulator{
		"generic": map[string]any{"nested": map[string]any{"list": []any{"x", "y"}}},
		"typed":   payload{Items: []string{"first", "second"}},
		"scalar":  5.0,
	}

	tests := []struct {
		name     string
		argument Argument
		expected any
		err      error
	}{
		{name: "literal", argument: Argument{Name: "a", Value: "v"}, expected: "v"},
		{name: "whole result", argument: Argument{Name: "a", Reference: "scalar"}, expected: 5.0},
		{name: "map and index", argument: Argument{Name: "a", Reference: "generic", Selection: []string{"nested", "list", "1"}}, expected: "y"},
		{name: "typed struct", argument: Argument{Name: "a", Reference: "typed", Selection: []string{"items", "0"}}, expected: "first"},
		{name: "not executed", argument: Argument{Name: "a", Reference: "missing"}, err: ErrReferenceNotExecuted},
		{name: "missing key", argument: Argument{Name: "a", Reference: "generic", Selection: []string{"other"}}, err: ErrInvalidSelection},
		{name: "index out of range", argument: Argument{Name: "a", Reference: "generic", Selection: []string{"nested", "list", "5"}}, err: ErrInvalidSelection},
		{name: "select from scalar", argument: Argument{Name: "a", Reference: "scalar", Selection: []string{"x"}}, err: ErrInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := tt.argument.Resolve(accumulator)

			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestArgument_UnmarshalJSON(t *testing.T) {
	var argument Argument

	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","value":{"k":1}}`), &argument))
	assert.Equal(t, map[string]any{"k": 1.0}, argument.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","reference":"step","selection":["x"]}`), &argument))
	assert.Nil(t, argument.Value)
	assert.True(t, argument.IsReference())

	err := json.Unmarshal([]byte(`{"name":"a","value":null}`), &argument)
	assert.ErrorIs(t, err, ErrArgumentEmpty)

	err = json.Unmarshal([]byte(`{"name":"a","value":1,"reference":"step"}`), &argument)
	assert.ErrorIs(t, err, ErrArgumentValueAndReference)
}

func TestOperator(t *testing.T) {
	tests := []struct {
		input    string
		expected Operator
	}{
		{input: "", expected: OperatorAnd},
		{input: "and", expected: OperatorAnd},
		{input: "or", expected: OperatorOr},
		{input: "XOR", expected: OperatorXor},
	}

	for _, tt := range tests {
		operator, err := ParseOperator(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, operator)
	}

	_, err := ParseOperator("nand")
	require.Error(t, err)

	data, err := json.Marshal(map[string]Operator{"operator": OperatorOr})
	require.NoError(t, err)
	assert.JSONEq(t, `{"operator":"or"}`, string(data))

	var decoded struct {
		Operator Operator `json:"operator"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"operator":"xor"}`), &decoded))
	assert.Equal(t, OperatorXor, decoded.Operator)
	assert.Equal(t, "operator(7)", Operator(7).String())
}

func TestConditionalExpression_LinkAndWalk(t *testing.T) {
	leaf := &ConditionalExpression{ID: "leaf"}
	child := &ConditionalExpression{ID: "child", Children: []*ConditionalExpression{leaf}}
	root := &ConditionalExpression{ID: "root", Children: []*ConditionalExpression{child}}

	root.Link()
	assert.Equal(t, "root", child.ParentID)
	assert.Equal(t, "child", leaf.ParentID)

	var visited []string

	root.Walk(func(expression *ConditionalExpression) {
		visited = append(visited, expression.ID)
	})
	assert.Equal(t, []string{"root", "child", "leaf"}, visited)

	var none *ConditionalExpression

	none.Walk(func(*ConditionalExpression) { t.Fatal("visited nil expression") })
}

func TestBranch_Defaults(t *testing.T) {
	priority := 1
	branch := &Branch{ID: "b1"}

	assert.Equal(t, DefaultBranchPriority, branch.EffectivePriority())
	assert.Equal(t, StatusSuccess, branch.EffectiveStatus())
	assert.Equal(t, DestinationAction, branch.EffectiveDestinationKind())

	branch = &Branch{ID: "b2", Priority: &priority, Status: "Failure", DestinationKind: DestinationWorkflow}
	assert.Equal(t, 1, branch.EffectivePriority())
	assert.Equal(t, "Failure", branch.EffectiveStatus())
	assert.Equal(t, DestinationWorkflow, branch.EffectiveDestinationKind())
}

func TestWorkflow_StructuralErrors(t *testing.T) {
	valid := &Workflow{
		ID:             "wf",
		Name:           "valid",
		Start:          "a1",
		Actions:        []*Action{{ID: "a1"}, {ID: "a2"}},
		ChildWorkflows: []*ChildWorkflow{{ID: "c1", WorkflowID: "other"}},
		Branches: []*Branch{
			{ID: "b1", SourceID: "a1", DestinationID: "a2"},
			{ID: "b2", SourceID: "a2", DestinationID: "c1", DestinationKind: DestinationWorkflow},
		},
	}
	assert.Empty(t, valid.StructuralErrors())
	assert.Len(t, valid.BranchesFrom("a1"), 1)

	tests := []struct {
		name     string
		workflow *Workflow
		err      error
	}{
		{
			name:     "missing start",
			workflow: &Workflow{Actions: []*Action{{ID: "a1"}}},
			err:      ErrStartMissing,
		},
		{
			name:     "unknown start",
			workflow: &Workflow{Start: "zz", Actions: []*Action{{ID: "a1"}}},
			err:      ErrStartNotFound,
		},
		{
			name: "dangling branch",
			workflow: &Workflow{Start: "a1", Actions: []*Action{{ID: "a1"}},
				Branches: []*Branch{{ID: "b1", SourceID: "a1", DestinationID: "a9"}}},
			err: ErrNodeNotFound,
		},
		{
			name: "workflow destination must be a child workflow",
			workflow: &Workflow{Start: "a1", Actions: []*Action{{ID: "a1"}, {ID: "a2"}},
				Branches: []*Branch{{ID: "b1", SourceID: "a1", DestinationID: "a2", DestinationKind: DestinationWorkflow}}},
			err: ErrNodeNotFound,
		},
		{
			name: "bad action argument",
			workflow: &Workflow{Start: "a1", Actions: []*Action{{ID: "a1",
				Arguments: []Argument{{Name: "x"}}}}},
			err: ErrArgumentEmpty,
		},
		{
			name: "bad device argument",
			workflow: &Workflow{Start: "a1", Actions: []*Action{{ID: "a1",
				Device: &Argument{Name: DeviceArgumentName, Value: "d", Reference: "r"}}}},
			err: ErrArgumentValueAndReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.workflow.StructuralErrors()
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], tt.err)

			tt.workflow.SetValidation(errs)
			assert.False(t, tt.workflow.IsValid)
			assert.Len(t, tt.workflow.Errors, 1)
		})
	}
}

func TestAccumulator(t *testing.T) {
	var empty Accumulator

	clone := empty.Clone()
	require.NotNil(t, clone)

	accumulator := Accumulator{"a": 1}
	snapshot := accumulator.Snapshot()
	accumulator["b"] = 2

	assert.Equal(t, map[string]any{"a": 1}, snapshot)
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusAborted.IsTerminal())
	assert.False(t, ExecutionStatusPaused.IsTerminal())
	assert.True(t, ActionResult{Status: StatusSuccess}.IsSuccess())
}
