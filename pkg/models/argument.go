package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// DeviceArgumentName is the argument name under which an action carries its device reference.
const DeviceArgumentName = "__device__"

var (
	ErrArgumentValueAndReference = errors.New("argument cannot have both a value and a reference")
	ErrArgumentEmpty             = errors.New("argument must have either a value or a reference")
	ErrReferenceNotExecuted      = errors.New("referenced action has not been executed")
	ErrInvalidSelection          = errors.New("invalid selection")
)

// Argument is a named input for an action, condition or transform. It carries
// exactly one of a literal Value or a Reference to a prior result in the
// accumulator, optionally narrowed by a Selection path.
type Argument struct {
	Name      string   `json:"name"                yaml:"name"                validate:"required"`
	Value     any      `json:"value,omitempty"     yaml:"value,omitempty"`
	Reference string   `json:"reference,omitempty" yaml:"reference,omitempty"`
	Selection []string `json:"selection,omitempty" yaml:"selection,omitempty"`
}

// NewValueArgument creates an argument holding a literal value.
func NewValueArgument(name string, value any) (Argument, error) {
	arg := Argument{Name: name, Value: value}

	return arg, arg.Validate()
}

// NewReferenceArgument creates an argument pointing at another node's result.
func NewReferenceArgument(name, reference string, selection ...string) (Argument, error) {
	arg := Argument{Name: name, Reference: reference, Selection: selection}

	return arg, arg.Validate()
}

// IsReference reports whether the argument reads its value from the accumulator.
func (a Argument) IsReference() bool {
	return a.Reference != ""
}

// Validate enforces that exactly one of value or reference is set.
func (a Argument) Validate() error {
	hasValue := a.Value != nil
	hasReference := a.Reference != ""

	switch {
	case hasValue && hasReference:
		return fmt.Errorf("argument %q: %w", a.Name, ErrArgumentValueAndReference)
	case !hasValue && !hasReference:
		return fmt.Errorf("argument %q: %w", a.Name, ErrArgumentEmpty)
	}

	return nil
}

// Resolve returns the argument's effective value, reading referenced results
// from the accumulator and walking the selection path.
func (a Argument) Resolve(accumulator Accumulator) (any, error) {
	if !a.IsReference() {
		return a.Value, nil
	}

	result, ok := accumulator[a.Reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReferenceNotExecuted, a.Reference)
	}

	if len(a.Selection) == 0 {
		return result, nil
	}

	return selectPath(result, a.Selection)
}

func (a *Argument) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Value     json.RawMessage `json:"value"`
		Reference string          `json:"reference"`
		Selection []string        `json:"selection"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	a.Name = raw.Name
	a.Reference = raw.Reference
	a.Selection = raw.Selection
	a.Value = nil

	if len(raw.Value) > 0 && string(raw.Value) != "null" {
		err = json.Unmarshal(raw.Value, &a.Value)
		if err != nil {
			return fmt.Errorf("argument %q: %w", raw.Name, err)
		}
	}

	return a.Validate()
}

func selectPath(current any, path []string) (any, error) {
	for _, element := range path {
		switch typed := normalize(current).(type) {
		case map[string]any:
			next, ok := typed[element]
			if !ok {
				return nil, fmt.Errorf("%w: key %q not found", ErrInvalidSelection, element)
			}

			current = next
		case []any:
			index, err := strconv.Atoi(element)
			if err != nil || index < 0 || index >= len(typed) {
				return nil, fmt.Errorf("%w: index %q out of range", ErrInvalidSelection, element)
			}

			current = typed[index]
		default:
			return nil, fmt.Errorf("%w: cannot select %q from %T", ErrInvalidSelection, element, current)
		}
	}

	return current, nil
}

// normalize converts typed maps and slices into their generic JSON shape so
// selection paths can walk them.
func normalize(value any) any {
	switch value.(type) {
	case map[string]any, []any, nil, string, bool, float64, int, int64:
		return value
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var generic any

	err = json.Unmarshal(data, &generic)
	if err != nil {
		return value
	}

	return generic
}
