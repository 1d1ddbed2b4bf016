package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownApp       = errors.New("unknown app")
	ErrUnknownAction    = errors.New("unknown action")
	ErrUnknownCondition = errors.New("unknown condition")
	ErrUnknownTransform = errors.New("unknown transform")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// UnknownCapabilityError returns the sentinel for a missing capability of the given kind.
func UnknownCapabilityError(kind Kind) error {
	switch kind {
	case KindCondition:
		return ErrUnknownCondition
	case KindTransform:
		return ErrUnknownTransform
	default:
		return ErrUnknownAction
	}
}

// InvalidArgumentError lists the field level problems found while binding arguments.
type InvalidArgumentError struct {
	Errors []string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments: %s", strings.Join(e.Errors, "; "))
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// IsInvalidArgument checks if an error comes from argument binding.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsResolutionError checks if an error means an app, capability or device is unknown.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrUnknownApp) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrUnknownCondition) ||
		errors.Is(err, ErrUnknownTransform) ||
		errors.Is(err, ErrUnknownDevice)
}
