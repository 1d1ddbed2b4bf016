package builtin

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
)

func expressionSignature() protocol.Signature {
	return protocol.Signature{
		DataParameter: DataParameter,
		Parameters: []protocol.Parameter{
			{Name: DataParameter, Type: protocol.TypeAny},
			{Name: "expression", Type: protocol.TypeString, Required: true, Schema: map[string]any{"minLength": 1}},
		},
	}
}

// exprEngine caches compiled expr-lang programs. Expressions see the input as
// the variable data.
type exprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newExprEngine() *exprEngine {
	return &exprEngine{cache: make(map[string]*vm.Program)}
}

func (e *exprEngine) condition() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: expressionSignature(),
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			expression, _ := call.Arguments["expression"].(string)

			program, err := e.getOrCompile(expression)
			if err != nil {
				return nil, err
			}

			out, err := vm.Run(program, map[string]any{DataParameter: normalize(call.Arguments[DataParameter])})
			if err != nil {
				return nil, fmt.Errorf("expr evaluation failed for %q: %w", expression, err)
			}

			return out, nil
		},
	}
}

func (e *exprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if program, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return program, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr compile error in %q: %w", expression, err)
	}

	e.cache[expression] = program

	return program, nil
}

type celEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEngine() (*celEngine, error) {
	env, err := cel.NewEnv(cel.Variable(DataParameter, cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &celEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *celEngine) condition() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: expressionSignature(),
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			expression, _ := call.Arguments["expression"].(string)

			program, err := e.getOrCompile(expression)
			if err != nil {
				return nil, err
			}

			out, _, err := program.Eval(map[string]any{DataParameter: normalize(call.Arguments[DataParameter])})
			if err != nil {
				return nil, fmt.Errorf("CEL evaluation failed for %q: %w", expression, err)
			}

			return out.Value(), nil
		},
	}
}

func (e *celEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if program, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return program, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expression, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error for %q: %w", expression, err)
	}

	e.cache[expression] = program

	return program, nil
}

func equalsCondition() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{
			DataParameter: DataParameter,
			Parameters: []protocol.Parameter{
				{Name: DataParameter, Type: protocol.TypeAny},
				{Name: "value", Type: protocol.TypeAny, Required: true},
			},
		},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			return reflect.DeepEqual(normalize(call.Arguments[DataParameter]), normalize(call.Arguments["value"])), nil
		},
	}
}

func matchesCondition() protocol.Capability {
	return protocol.CapabilityFunc{
		Sig: protocol.Signature{
			DataParameter: DataParameter,
			Parameters: []protocol.Parameter{
				{Name: DataParameter, Type: protocol.TypeString},
				{Name: "pattern", Type: protocol.TypeString, Required: true},
			},
		},
		Fn: func(_ context.Context, call protocol.Call) (any, error) {
			pattern, _ := call.Arguments["pattern"].(string)

			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}

			text, _ := call.Arguments[DataParameter].(string)

			return re.MatchString(text), nil
		},
	}
}
