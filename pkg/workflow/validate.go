package workflow

import (
	"errors"
	"fmt"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the workflow's structure and resolves every capability it
// references, recording the outcome in IsValid and Errors.
func Validate(workflow *models.Workflow, resolver protocol.CapabilityResolver) bool {
	workflow.Link()

	var errs []error

	err := structValidator.Struct(workflow)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				errs = append(errs, fmt.Errorf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	errs = append(errs, workflow.StructuralErrors()...)

	for _, action := range workflow.Actions {
		_, err := resolver.Resolve(protocol.KindAction, action.AppName, action.ActionName)
		if err != nil {
			errs = append(errs, fmt.Errorf("action %s: %w", action.ID, err))
		}

		errs = append(errs, expressionErrors(action.Trigger, resolver)...)
	}

	for _, branch := range workflow.Branches {
		errs = append(errs, expressionErrors(branch.Condition, resolver)...)
	}

	workflow.SetValidation(errs)

	return workflow.IsValid
}

func expressionErrors(tree *models.ConditionalExpression, resolver protocol.CapabilityResolver) []error {
	var errs []error

	tree.Walk(func(expression *models.ConditionalExpression) {
		switch expression.Operator {
		case models.OperatorAnd, models.OperatorOr, models.OperatorXor:
		default:
			errs = append(errs, fmt.Errorf("conditional expression %s: unknown operator %s", expression.ID, expression.Operator))
		}

		for _, condition := range expression.Conditions {
			_, err := resolver.Resolve(protocol.KindCondition, condition.AppName, condition.ActionName)
			if err != nil {
				errs = append(errs, fmt.Errorf("condition %s: %w", condition.ID, err))
			}

			for _, transform := range condition.Transforms {
				_, err := resolver.Resolve(protocol.KindTransform, transform.AppName, transform.ActionName)
				if err != nil {
					errs = append(errs, fmt.Errorf("transform %s: %w", transform.ID, err))
				}
			}
		}
	})

	return errs
}
