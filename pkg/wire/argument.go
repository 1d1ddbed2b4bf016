package wire

import (
	"encoding/json"
	"fmt"

	"github.com/99scratch/WALKOFF/pkg/models"
)

// Argument is the wire form of models.Argument. Literal values travel as
// strings: strings as is, everything else JSON encoded, so 46 becomes "46".
type Argument struct {
	Name      string   `json:"name"                validate:"required"`
	Value     *string  `json:"value,omitempty"`
	Reference string   `json:"reference,omitempty"`
	Selection []string `json:"selection,omitempty"`
}

// NewValueArgument encodes value into a literal argument.
func NewValueArgument(name string, value any) (Argument, error) {
	encoded, err := EncodeValue(value)
	if err != nil {
		return Argument{}, fmt.Errorf("argument %q: %w", name, err)
	}

	arg := Argument{Name: name, Value: &encoded}

	return arg, arg.Validate()
}

// NewReferenceArgument creates an argument reading a prior result.
func NewReferenceArgument(name, reference string, selection ...string) (Argument, error) {
	arg := Argument{Name: name, Reference: reference, Selection: selection}

	return arg, arg.Validate()
}

// EncodeValue renders a literal value in its wire form.
func EncodeValue(value any) (string, error) {
	if text, ok := value.(string); ok {
		return text, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// Validate enforces that exactly one of value or reference is set.
func (a Argument) Validate() error {
	switch {
	case a.Value != nil && a.Reference != "":
		return fmt.Errorf("argument %q: %w", a.Name, models.ErrArgumentValueAndReference)
	case a.Value == nil && a.Reference == "":
		return fmt.Errorf("argument %q: %w", a.Name, models.ErrArgumentEmpty)
	}

	return nil
}

func (a *Argument) UnmarshalJSON(data []byte) error {
	type plain Argument

	var decoded plain

	err := json.Unmarshal(data, &decoded)
	if err != nil {
		return err
	}

	*a = Argument(decoded)

	return a.Validate()
}

// ToModel keeps the value in its string form; the argument validator re-types
// it from the capability's declared parameter type.
func (a Argument) ToModel() models.Argument {
	arg := models.Argument{
		Name:      a.Name,
		Reference: a.Reference,
		Selection: a.Selection,
	}

	if a.Value != nil {
		arg.Value = *a.Value
	}

	return arg
}

// FromModel encodes a model argument for the wire.
func FromModel(arg models.Argument) (Argument, error) {
	if arg.IsReference() {
		return NewReferenceArgument(arg.Name, arg.Reference, arg.Selection...)
	}

	return NewValueArgument(arg.Name, arg.Value)
}

func ArgumentsToModel(arguments []Argument) []models.Argument {
	if len(arguments) == 0 {
		return nil
	}

	converted := make([]models.Argument, 0, len(arguments))
	for _, argument := range arguments {
		converted = append(converted, argument.ToModel())
	}

	return converted
}

func ArgumentsFromModel(arguments []models.Argument) ([]Argument, error) {
	if len(arguments) == 0 {
		return nil, nil
	}

	converted := make([]Argument, 0, len(arguments))

	for _, argument := range arguments {
		encoded, err := FromModel(argument)
		if err != nil {
			return nil, err
		}

		converted = append(converted, encoded)
	}

	return converted, nil
}
