package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/99scratch/WALKOFF/pkg/template"
	"github.com/itchyny/gojq"
)

type jqEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newJQEngine() *jqEngine {
	return &jqEngine{cache: make(map[string]*gojq.Code)}
}

// transform runs a jq query over the input. One output is returned as is,
// several are collected into a list.
func (e *jqEngine) transform() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{
			DataParameter: DataParameter,
			Parameters: []protocol.Parameter{
				{Name: DataParameter, Type: protocol.TypeAny},
				{Name: "query", Type: protocol.TypeString, Required: true, Schema: map[string]any{"minLength": 1}},
			},
		},
		Fn: func(ctx context.Context, call protocol.Call) (any, error) {
			query, _ := call.Arguments["query"].(string)

			code, err := e.getOrCompile(query)
			if err != nil {
				return nil, err
			}

			iter := code.RunWithContext(ctx, normalize(call.Arguments[DataParameter]))

			var results []any

			for {
				value, ok := iter.Next()
				if !ok {
					break
				}

				if err, isErr := value.(error); isErr {
					return nil, fmt.Errorf("jq evaluation failed for %q: %w", query, err)
				}

				results = append(results, value)
			}

			switch len(results) {
			case 0:
				return nil, nil
			case 1:
				return results[0], nil
			default:
				return results, nil
			}
		},
	}
}

func (e *jqEngine) getOrCompile(query string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[query]; ok {
		e.mu.RUnlock()

		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", query, err)
	}

	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", query, err)
	}

	e.cache[query] = code

	return code, nil
}

func templateTransform() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{
			DataParameter: DataParameter,
			Parameters: []protocol.Parameter{
				{Name: DataParameter, Type: protocol.TypeAny},
				{Name: "template", Type: protocol.TypeString, Required: true},
			},
		},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			text, _ := call.Arguments["template"].(string)

			return template.Render(text, map[string]any{DataParameter: normalize(call.Arguments[DataParameter])})
		},
	}
}

func lengthTransform() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{
			DataParameter: DataParameter,
			Parameters:    []protocol.Parameter{{Name: DataParameter, Type: protocol.TypeAny}},
		},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			value := reflect.ValueOf(call.Arguments[DataParameter])

			switch value.Kind() {
			case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
				return value.Len(), nil
			default:
				return nil, fmt.Errorf("cannot take length of %T", call.Arguments[DataParameter])
			}
		},
	}
}

// normalize converts Go values into the generic JSON shape the expression
// engines understand.
func normalize(value any) any {
	switch value.(type) {
	case nil, string, bool, float64:
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
