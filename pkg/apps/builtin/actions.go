package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/protocol"
)

var ErrActionFailed = errors.New("action failed")

func echoAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{Parameters: []protocol.Parameter{
			{Name: "data", Type: protocol.TypeAny, Required: true},
		}},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			return call.Arguments["data"], nil
		},
	}
}

func addAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{Parameters: []protocol.Parameter{
			{Name: "a", Type: protocol.TypeNumber, Required: true},
			{Name: "b", Type: protocol.TypeNumber, Required: true},
		}},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			a, err := toFloat(call.Arguments["a"])
			if err != nil {
				return nil, err
			}

			b, err := toFloat(call.Arguments["b"])
			if err != nil {
				return nil, err
			}

			return a + b, nil
		},
	}
}

func failAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{Parameters: []protocol.Parameter{
			{Name: "message", Type: protocol.TypeString, Default: "failed on purpose"},
		}},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			return nil, fmt.Errorf("%w: %v", ErrActionFailed, call.Arguments["message"])
		},
	}
}

// sleepAction waits for the given number of seconds or until ctx is done.
func sleepAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{Parameters: []protocol.Parameter{
			{Name: "seconds", Type: protocol.TypeNumber, Required: true, Schema: map[string]any{"minimum": 0}},
		}},
		Fn: func(ctx context.Context, call protocol.Call) (any, error) {
			seconds, err := toFloat(call.Arguments["seconds"])
			if err != nil {
				return nil, err
			}

			timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return seconds, nil
			}
		},
	}
}

// setStatusAction returns its result under an arbitrary status so branches can
// route on it.
func setStatusAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{Parameters: []protocol.Parameter{
			{Name: "status", Type: protocol.TypeString, Required: true},
			{Name: "result", Type: protocol.TypeAny},
		}},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			status, _ := call.Arguments["status"].(string)

			return models.ActionResult{Result: call.Arguments["result"], Status: status}, nil
		},
	}
}

func deviceInfoAction() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			instance, ok := call.Instance.(*Instance)
			if !ok {
				return nil, fmt.Errorf("%w: action requires a device", protocol.ErrUnknownDevice)
			}

			return map[string]any{"device_id": instance.DeviceID}, nil
		},
	}
}

func toFloat(value any) (float64, error) {
	switch number := value.(type) {
	case float64:
		return number, nil
	case float32:
		return float64(number), nil
	case int:
		return float64(number), nil
	case int64:
		return float64(number), nil
	case int32:
		return float64(number), nil
	case uint64:
		return float64(number), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
