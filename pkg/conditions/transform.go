package conditions

import (
	"context"
	"encoding/json"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
)

// transform applies one transform. Any failure returns dataIn unchanged.
func (e *Evaluator) transform(ctx context.Context, scope Scope, transform *models.Transform, dataIn any, accumulator models.Accumulator) any {
	sender := events.Sender{
		Type:       events.SenderTransform,
		ID:         transform.ID,
		AppName:    transform.AppName,
		ActionName: transform.ActionName,
		WorkflowID: scope.WorkflowID,
	}

	passThrough := func(err error) any {
		e.logger.WarnContext(ctx, "Transform failed, passing data through",
			"execution_id", scope.ExecutionID,
			"transform_id", transform.ID,
			"error", err,
		)
		e.emitter.Emit(ctx, events.New(events.TransformError, scope.ExecutionID, sender, map[string]any{
			"error": err.Error(),
		}))

		return dataIn
	}

	capability, err := e.resolver.Resolve(protocol.KindTransform, transform.AppName, transform.ActionName)
	if err != nil {
		return passThrough(err)
	}

	signature := capability.Signature()

	arguments, err := e.validator.Bind(signature, withData(transform.Arguments, signature.DataParameter, deepCopy(dataIn)), accumulator)
	if err != nil {
		return passThrough(err)
	}

	output, err := capability.Invoke(ctx, protocol.Call{ExecutionID: scope.ExecutionID, Arguments: arguments})
	if err != nil {
		return passThrough(err)
	}

	e.emitter.Emit(ctx, events.New(events.TransformSuccess, scope.ExecutionID, sender, map[string]any{
		"result": output,
	}))

	return output
}

// deepCopy isolates the caller's data from a transform that mutates its input.
func deepCopy(value any) any {
	switch value.(type) {
	case map[string]any, []any:
	default:
		return value
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var copied any

	err = json.Unmarshal(data, &copied)
	if err != nil {
		return value
	}

	return copied
}
