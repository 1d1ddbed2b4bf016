// Package conditions evaluates the boolean expression trees that gate branches
// and trigger actions.
package conditions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
)

// Scope identifies the run an evaluation belongs to, for event correlation.
type Scope struct {
	ExecutionID string
	WorkflowID  string
}

type Evaluator struct {
	resolver  protocol.CapabilityResolver
	validator protocol.ArgumentValidator
	emitter   protocol.Emitter
	logger    *slog.Logger
}

func NewEvaluator(
	resolver protocol.CapabilityResolver,
	validator protocol.ArgumentValidator,
	emitter protocol.Emitter,
	logger *slog.Logger,
) *Evaluator {
	if emitter == nil {
		emitter = protocol.EmitterFunc(func(context.Context, events.Event) {})
	}

	return &Evaluator{
		resolver:  resolver,
		validator: validator,
		emitter:   emitter,
		logger:    logger.With("module", "conditions"),
	}
}

// Evaluate computes the tree against dataIn. A nil tree is always true.
func (e *Evaluator) Evaluate(ctx context.Context, scope Scope, tree *models.ConditionalExpression, dataIn any, accumulator models.Accumulator) bool {
	if tree == nil {
		return true
	}

	result := e.operate(ctx, scope, tree, dataIn, accumulator)
	if tree.IsNegated {
		result = !result
	}

	eventType := events.ConditionalExpressionFalse
	if result {
		eventType = events.ConditionalExpressionTrue
	}

	e.emitter.Emit(ctx, events.New(eventType, scope.ExecutionID, events.Sender{
		Type:       events.SenderConditionalExpression,
		ID:         tree.ID,
		WorkflowID: scope.WorkflowID,
	}, nil))

	return result
}

func (e *Evaluator) operate(ctx context.Context, scope Scope, tree *models.ConditionalExpression, dataIn any, accumulator models.Accumulator) bool {
	switch tree.Operator {
	case models.OperatorAnd:
		for _, condition := range tree.Conditions {
			if !e.condition(ctx, scope, condition, dataIn, accumulator) {
				return false
			}
		}

		for _, child := range tree.Children {
			if !e.Evaluate(ctx, scope, child, dataIn, accumulator) {
				return false
			}
		}

		return true
	case models.OperatorOr:
		if len(tree.Conditions) == 0 && len(tree.Children) == 0 {
			return true
		}

		for _, condition := range tree.Conditions {
			if e.condition(ctx, scope, condition, dataIn, accumulator) {
				return true
			}
		}

		for _, child := range tree.Children {
			if e.Evaluate(ctx, scope, child, dataIn, accumulator) {
				return true
			}
		}

		return false
	case models.OperatorXor:
		if len(tree.Conditions) == 0 && len(tree.Children) == 0 {
			return true
		}

		matched := false

		for _, condition := range tree.Conditions {
			if e.condition(ctx, scope, condition, dataIn, accumulator) {
				if matched {
					return false
				}

				matched = true
			}
		}

		for _, child := range tree.Children {
			if e.Evaluate(ctx, scope, child, dataIn, accumulator) {
				if matched {
					return false
				}

				matched = true
			}
		}

		return matched
	default:
		e.logger.ErrorContext(ctx, "Unknown operator in conditional expression",
			"expression_id", tree.ID, "operator", tree.Operator.String())

		return false
	}
}

// condition runs one leaf test. Failures resolve to false without negation.
func (e *Evaluator) condition(ctx context.Context, scope Scope, condition *models.Condition, dataIn any, accumulator models.Accumulator) bool {
	sender := events.Sender{
		Type:       events.SenderCondition,
		ID:         condition.ID,
		AppName:    condition.AppName,
		ActionName: condition.ActionName,
		WorkflowID: scope.WorkflowID,
	}
	logger := e.logger.With(
		"execution_id", scope.ExecutionID,
		"condition_id", condition.ID,
		"app", condition.AppName,
		"condition", condition.ActionName,
	)

	fail := func(err error) bool {
		logger.ErrorContext(ctx, "Condition failed", "error", err)
		e.emitter.Emit(ctx, events.New(events.ConditionError, scope.ExecutionID, sender, map[string]any{
			"error": err.Error(),
		}))

		return false
	}

	data := dataIn
	for _, transform := range condition.Transforms {
		data = e.transform(ctx, scope, transform, data, accumulator)
	}

	capability, err := e.resolver.Resolve(protocol.KindCondition, condition.AppName, condition.ActionName)
	if err != nil {
		return fail(err)
	}

	signature := capability.Signature()

	arguments, err := e.validator.Bind(signature, withData(condition.Arguments, signature.DataParameter, data), accumulator)
	if err != nil {
		return fail(err)
	}

	output, err := capability.Invoke(ctx, protocol.Call{ExecutionID: scope.ExecutionID, Arguments: arguments})
	if err != nil {
		return fail(err)
	}

	result, ok := output.(bool)
	if !ok {
		return fail(fmt.Errorf("condition returned %T, expected bool", output))
	}

	e.emitter.Emit(ctx, events.New(events.ConditionSuccess, scope.ExecutionID, sender, map[string]any{
		"result": result,
	}))

	if condition.IsNegated {
		return !result
	}

	return result
}

// withData returns a copy of arguments with the data parameter set to data.
func withData(arguments []models.Argument, dataParameter string, data any) []models.Argument {
	if dataParameter == "" {
		return arguments
	}

	bound := make([]models.Argument, 0, len(arguments)+1)
	for _, argument := range arguments {
		if argument.Name != dataParameter {
			bound = append(bound, argument)
		}
	}

	return append(bound, models.Argument{Name: dataParameter, Value: data})
}
