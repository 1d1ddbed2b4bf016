package conditions_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/99scratch/WALKOFF/pkg/conditions"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]events.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}

	return types
}

func (r *recorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []events.Event

	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

var scope = conditions.Scope{ExecutionID: "exec-1", WorkflowID: "wf-1"}

func newEvaluator(t *testing.T) (*conditions.Evaluator, *recorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	reg := registry.NewRegistry(logger)

	dataOnly := func(dataType protocol.ParameterType, extra ...protocol.Parameter) protocol.Signature {
		return protocol.Signature{
			DataParameter: "data",
			Parameters:    append([]protocol.Parameter{{Name: "data", Type: dataType}}, extra...),
		}
	}

	reg.RegisterApp(registry.NewApp("test").
		WithCondition("equals", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeAny, protocol.Parameter{Name: "value", Type: protocol.TypeAny, Required: true}),
			Fn: func(_ context.Context, call protocol.Call) (any, error) {
				return reflect.DeepEqual(call.Arguments["data"], call.Arguments["value"]), nil
			},
		}).
		WithCondition("not_bool", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeAny),
			Fn: func(context.Context, protocol.Call) (any, error) {
				return "yes", nil
			},
		}).
		WithCondition("boom", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeAny),
			Fn: func(context.Context, protocol.Call) (any, error) {
				return nil, errors.New("boom")
			},
		}).
		WithTransform("double", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeNumber),
			Fn: func(_ context.Context, call protocol.Call) (any, error) {
				return call.Arguments["data"].(float64) * 2, nil
			},
		}).
		WithTransform("boom", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeAny),
			Fn: func(context.Context, protocol.Call) (any, error) {
				return nil, errors.New("boom")
			},
		}).
		WithTransform("mutate", protocol.CapabilityFunc{
			Sig: dataOnly(protocol.TypeObject),
			Fn: func(_ context.Context, call protocol.Call) (any, error) {
				data := call.Arguments["data"].(map[string]any)
				data["mutated"] = true

				return data, nil
			},
		}))

	rec := &recorder{}

	return conditions.NewEvaluator(reg, validation.New(), rec, logger), rec
}

func equals(id string, value any) *models.Condition {
	return &models.Condition{
		ID:         id,
		AppName:    "test",
		ActionName: "equals",
		Arguments:  []models.Argument{{Name: "value", Value: value}},
	}
}

func leaf(id, actionName string) *models.Condition {
	return &models.Condition{ID: id, AppName: "test", ActionName: actionName}
}

func TestEvaluate_NilTreeIsTrue(t *testing.T) {
	evaluator, rec := newEvaluator(t)

	assert.True(t, evaluator.Evaluate(context.Background(), scope, nil, 1.0, nil))
	assert.Empty(t, rec.types())
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name     string
		tree     *models.ConditionalExpression
		expected bool
	}{
		{
			name:     "empty and",
			tree:     &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd},
			expected: true,
		},
		{
			name:     "empty or",
			tree:     &models.ConditionalExpression{ID: "root", Operator: models.OperatorOr},
			expected: true,
		},
		{
			name:     "empty xor",
			tree:     &models.ConditionalExpression{ID: "root", Operator: models.OperatorXor},
			expected: true,
		},
		{
			name: "and all true",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd,
				Conditions: []*models.Condition{equals("c1", 1.0), equals("c2", 1.0)}},
			expected: true,
		},
		{
			name: "and one false",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd,
				Conditions: []*models.Condition{equals("c1", 1.0), equals("c2", 2.0)}},
			expected: false,
		},
		{
			name: "or one true",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorOr,
				Conditions: []*models.Condition{equals("c1", 2.0), equals("c2", 1.0)}},
			expected: true,
		},
		{
			name: "or none true",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorOr,
				Conditions: []*models.Condition{equals("c1", 2.0), equals("c2", 3.0)}},
			expected: false,
		},
		{
			name: "xor exactly one",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorXor,
				Conditions: []*models.Condition{equals("c1", 2.0), equals("c2", 1.0)}},
			expected: true,
		},
		{
			name: "xor two true",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorXor,
				Conditions: []*models.Condition{equals("c1", 1.0), equals("c2", 1.0)}},
			expected: false,
		},
		{
			name: "xor counts children",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorXor,
				Conditions: []*models.Condition{equals("c1", 1.0)},
				Children: []*models.ConditionalExpression{
					{ID: "child", Operator: models.OperatorAnd, Conditions: []*models.Condition{equals("c2", 1.0)}},
				}},
			expected: false,
		},
		{
			name: "negated expression",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd, IsNegated: true,
				Conditions: []*models.Condition{equals("c1", 2.0)}},
			expected: true,
		},
		{
			name: "negated condition",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd,
				Conditions: []*models.Condition{{ID: "c1", AppName: "test", ActionName: "equals", IsNegated: true,
					Arguments: []models.Argument{{Name: "value", Value: 2.0}}}}},
			expected: true,
		},
		{
			name: "nested negated child",
			tree: &models.ConditionalExpression{ID: "root", Operator: models.OperatorAnd,
				Conditions: []*models.Condition{equals("c1", 1.0)},
				Children: []*models.ConditionalExpression{
					{ID: "child", Operator: models.OperatorOr, IsNegated: true,
						Conditions: []*models.Condition{equals("c2", 5.0)}},
				}},
			expected: true,
		},
		{
			name:     "unknown operator",
			tree:     &models.ConditionalExpression{ID: "root", Operator: models.Operator(9)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, _ := newEvaluator(t)

			assert.Equal(t, tt.expected, evaluator.Evaluate(context.Background(), scope, tt.tree, 1.0, nil))
		})
	}
}

func TestEvaluate_FailuresAreFalseEvenWhenNegated(t *testing.T) {
	tests := []struct {
		name      string
		condition *models.Condition
	}{
		{name: "unknown app", condition: &models.Condition{ID: "c1", AppName: "missing", ActionName: "equals", IsNegated: true}},
		{name: "unknown condition", condition: &models.Condition{ID: "c1", AppName: "test", ActionName: "missing", IsNegated: true}},
		{name: "capability error", condition: &models.Condition{ID: "c1", AppName: "test", ActionName: "boom", IsNegated: true}},
		{name: "non boolean result", condition: &models.Condition{ID: "c1", AppName: "test", ActionName: "not_bool", IsNegated: true}},
		{name: "missing required argument", condition: &models.Condition{ID: "c1", AppName: "test", ActionName: "equals", IsNegated: true}},
		{name: "unexecuted reference", condition: &models.Condition{ID: "c1", AppName: "test", ActionName: "equals", IsNegated: true,
			Arguments: []models.Argument{{Name: "value", Reference: "never-ran"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, rec := newEvaluator(t)
			tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{tt.condition}}

			assert.False(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))

			conditionErrors := rec.ofType(events.ConditionError)
			require.Len(t, conditionErrors, 1)
			assert.Equal(t, "c1", conditionErrors[0].Sender.ID)
			assert.Equal(t, events.SenderCondition, conditionErrors[0].Sender.Type)
			assert.Equal(t, "exec-1", conditionErrors[0].ExecutionID)
			assert.NotEmpty(t, conditionErrors[0].Data["error"])
			assert.Empty(t, rec.ofType(events.ConditionSuccess))
		})
	}
}

func TestEvaluate_EmitsEventsInOrder(t *testing.T) {
	evaluator, rec := newEvaluator(t)
	tree := &models.ConditionalExpression{
		ID:         "root",
		Operator:   models.OperatorAnd,
		Conditions: []*models.Condition{equals("c1", 1.0)},
		Children: []*models.ConditionalExpression{
			{ID: "child", Operator: models.OperatorAnd, Conditions: []*models.Condition{equals("c2", 2.0)}},
		},
	}

	assert.False(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))
	assert.Equal(t, []events.EventType{
		events.ConditionSuccess,
		events.ConditionSuccess,
		events.ConditionalExpressionFalse,
		events.ConditionalExpressionFalse,
	}, rec.types())

	expressions := rec.ofType(events.ConditionalExpressionFalse)
	assert.Equal(t, "child", expressions[0].Sender.ID)
	assert.Equal(t, "root", expressions[1].Sender.ID)
	assert.Equal(t, "wf-1", expressions[1].Sender.WorkflowID)

	successes := rec.ofType(events.ConditionSuccess)
	assert.Equal(t, true, successes[0].Data["result"])
	assert.Equal(t, false, successes[1].Data["result"])
}

func TestEvaluate_ShortCircuits(t *testing.T) {
	evaluator, rec := newEvaluator(t)
	tree := &models.ConditionalExpression{
		ID:         "root",
		Operator:   models.OperatorOr,
		Conditions: []*models.Condition{equals("c1", 1.0), equals("c2", 1.0)},
	}

	assert.True(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))
	assert.Len(t, rec.ofType(events.ConditionSuccess), 1)
}

func TestEvaluate_ResolvesReferences(t *testing.T) {
	evaluator, _ := newEvaluator(t)
	accumulator := models.Accumulator{"previous": map[string]any{"count": 3.0}}
	tree := &models.ConditionalExpression{
		ID: "root",
		Conditions: []*models.Condition{{
			ID:         "c1",
			AppName:    "test",
			ActionName: "equals",
			Arguments:  []models.Argument{{Name: "value", Reference: "previous", Selection: []string{"count"}}},
		}},
	}

	assert.True(t, evaluator.Evaluate(context.Background(), scope, tree, 3.0, accumulator))
	assert.False(t, evaluator.Evaluate(context.Background(), scope, tree, 4.0, accumulator))
}

func TestEvaluate_Transforms(t *testing.T) {
	t.Run("chain in order", func(t *testing.T) {
		evaluator, rec := newEvaluator(t)
		condition := equals("c1", 4.0)
		condition.Transforms = []*models.Transform{
			{ID: "t1", AppName: "test", ActionName: "double"},
			{ID: "t2", AppName: "test", ActionName: "double"},
		}
		tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{condition}}

		assert.True(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))

		successes := rec.ofType(events.TransformSuccess)
		require.Len(t, successes, 2)
		assert.Equal(t, 2.0, successes[0].Data["result"])
		assert.Equal(t, 4.0, successes[1].Data["result"])
	})

	t.Run("failure passes data through", func(t *testing.T) {
		evaluator, rec := newEvaluator(t)
		condition := equals("c1", 2.0)
		condition.Transforms = []*models.Transform{
			{ID: "t1", AppName: "test", ActionName: "boom"},
			{ID: "t2", AppName: "test", ActionName: "missing"},
			{ID: "t3", AppName: "test", ActionName: "double"},
		}
		tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{condition}}

		assert.True(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))

		transformErrors := rec.ofType(events.TransformError)
		require.Len(t, transformErrors, 2)
		assert.Equal(t, "t1", transformErrors[0].Sender.ID)
		assert.Equal(t, "t2", transformErrors[1].Sender.ID)
	})

	t.Run("run before an unknown condition fails", func(t *testing.T) {
		evaluator, rec := newEvaluator(t)
		condition := leaf("c1", "missing")
		condition.Transforms = []*models.Transform{{ID: "t1", AppName: "test", ActionName: "double"}}
		tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{condition}}

		assert.False(t, evaluator.Evaluate(context.Background(), scope, tree, 1.0, nil))
		assert.Equal(t, []events.EventType{
			events.TransformSuccess,
			events.ConditionError,
			events.ConditionalExpressionFalse,
		}, rec.types())
	})

	t.Run("does not mutate input", func(t *testing.T) {
		evaluator, _ := newEvaluator(t)
		condition := equals("c1", map[string]any{"a": 1.0, "mutated": true})
		condition.Transforms = []*models.Transform{{ID: "t1", AppName: "test", ActionName: "mutate"}}
		tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{condition}}
		data := map[string]any{"a": 1.0}

		assert.True(t, evaluator.Evaluate(context.Background(), scope, tree, data, nil))
		assert.Equal(t, map[string]any{"a": 1.0}, data)
	})
}

func TestNewEvaluator_NilEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	reg := registry.NewRegistry(logger)
	evaluator := conditions.NewEvaluator(reg, validation.New(), nil, logger)

	tree := &models.ConditionalExpression{ID: "root", Conditions: []*models.Condition{leaf("c1", "equals")}}

	assert.NotPanics(t, func() {
		assert.False(t, evaluator.Evaluate(context.Background(), scope, tree, nil, nil))
	})
}
