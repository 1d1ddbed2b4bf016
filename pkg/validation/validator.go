// Package validation binds workflow arguments to capability parameters,
// re-typing wire encoded values and checking them against a JSON schema.
package validation

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Validator implements protocol.ArgumentValidator with gojsonschema.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Bind resolves every argument against the accumulator, re-types it by its
// parameter's declared type, fills defaults and validates the result.
func (v *Validator) Bind(signature protocol.Signature, arguments []models.Argument, accumulator models.Accumulator) (map[string]any, error) {
	bound := make(map[string]any, len(signature.Parameters))

	var problems []string

	for _, argument := range arguments {
		parameter, ok := signature.Parameter(argument.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown parameter", argument.Name))

			continue
		}

		err := argument.Validate()
		if err != nil {
			problems = append(problems, err.Error())

			continue
		}

		value, err := argument.Resolve(accumulator)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", argument.Name, err))

			continue
		}

		value, err = Retype(value, parameter.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", argument.Name, err))

			continue
		}

		bound[argument.Name] = value
	}

	for _, parameter := range signature.Parameters {
		if _, ok := bound[parameter.Name]; !ok && parameter.Default != nil {
			bound[parameter.Name] = parameter.Default
		}
	}

	if len(problems) > 0 {
		return nil, &protocol.InvalidArgumentError{Errors: problems}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(SchemaFor(signature)),
		gojsonschema.NewGoLoader(bound),
	)
	if err != nil {
		return nil, &protocol.InvalidArgumentError{Errors: []string{err.Error()}}
	}

	if !result.Valid() {
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}

		return nil, &protocol.InvalidArgumentError{Errors: problems}
	}

	return bound, nil
}

// SchemaFor builds the JSON schema object describing a signature's parameters.
func SchemaFor(signature protocol.Signature) map[string]any {
	properties := make(map[string]any, len(signature.Parameters))
	required := make([]any, 0)

	for _, parameter := range signature.Parameters {
		property := make(map[string]any, len(parameter.Schema)+1)
		for key, value := range parameter.Schema {
			property[key] = value
		}

		if parameter.Type != "" && parameter.Type != protocol.TypeAny {
			property["type"] = string(parameter.Type)
		}

		properties[parameter.Name] = property

		if parameter.Required {
			required = append(required, parameter.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Retype parses a string value into the declared parameter type. Non string
// values and string or untyped parameters are returned unchanged.
func Retype(value any, parameterType protocol.ParameterType) (any, error) {
	text, ok := value.(string)
	if !ok {
		return value, nil
	}

	switch parameterType {
	case protocol.TypeInteger:
		parsed, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as integer", text)
		}

		return parsed, nil
	case protocol.TypeNumber:
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as number", text)
		}

		return parsed, nil
	case protocol.TypeBoolean:
		parsed, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as boolean", text)
		}

		return parsed, nil
	case protocol.TypeObject, protocol.TypeArray:
		var parsed any

		err := json.Unmarshal([]byte(text), &parsed)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as %s", text, parameterType)
		}

		return parsed, nil
	default:
		return value, nil
	}
}
