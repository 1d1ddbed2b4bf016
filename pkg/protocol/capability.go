// Package protocol defines the contracts between the execution engine and its
// collaborators: capability resolution, argument binding, device instances and
// event emission.
package protocol

import (
	"context"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/models"
)

// Kind distinguishes the three capability families an app can provide.
type Kind string

const (
	KindAction    Kind = "action"
	KindCondition Kind = "condition"
	KindTransform Kind = "transform"
)

// ParameterType is the declared JSON type of a capability parameter. Values
// arriving as strings over the wire are re-typed with it.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeInteger ParameterType = "integer"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeObject  ParameterType = "object"
	TypeArray   ParameterType = "array"
	TypeAny     ParameterType = "any"
)

// Parameter describes one named input of a capability. Schema holds extra JSON
// schema keywords (enum, minimum, pattern, ...) merged into the generated
// property schema.
type Parameter struct {
	Name     string         `json:"name"`
	Type     ParameterType  `json:"type"`
	Required bool           `json:"required,omitempty"`
	Default  any            `json:"default,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
}

// Signature is the parameter schema of a capability. DataParameter names the
// slot conditions and transforms receive their input data in.
type Signature struct {
	Parameters    []Parameter `json:"parameters"`
	DataParameter string      `json:"data_parameter,omitempty"`
}

// Parameter returns the parameter with the given name.
func (s Signature) Parameter(name string) (Parameter, bool) {
	for _, parameter := range s.Parameters {
		if parameter.Name == name {
			return parameter, true
		}
	}

	return Parameter{}, false
}

// Call carries bound arguments and the device instance, if any, into a capability.
type Call struct {
	ExecutionID string
	Arguments   map[string]any
	Instance    Instance
}

// Capability is an executable action, condition or transform. Conditions must
// return a bool. Actions may return a models.ActionResult to choose their status.
type Capability interface {
	Signature() Signature
	Invoke(ctx context.Context, call Call) (any, error)
}

// CapabilityFunc adapts a function and a signature into a Capability.
type CapabilityFunc struct {
	Sig Signature
	Fn  func(ctx context.Context, call Call) (any, error)
}

func (c CapabilityFunc) Signature() Signature {
	return c.Sig
}

func (c CapabilityFunc) Invoke(ctx context.Context, call Call) (any, error) {
	return c.Fn(ctx, call)
}

// Instance is a device bound app instance shared by the actions of one run.
type Instance interface {
	Shutdown(ctx context.Context) error
}

// App is a named bundle of capabilities.
type App interface {
	ID() string
	Capability(kind Kind, name string) (Capability, bool)
	NewInstance(ctx context.Context, deviceID string) (Instance, error)
}

// CapabilityResolver maps (app, name) to an executable capability.
type CapabilityResolver interface {
	Resolve(kind Kind, app, name string) (Capability, error)
}

// InstanceFactory creates device bound instances for an app.
type InstanceFactory interface {
	NewInstance(ctx context.Context, app, deviceID string) (Instance, error)
}

// InstanceRepository scopes device instances to one run.
type InstanceRepository interface {
	Acquire(ctx context.Context, app, deviceID string) (Instance, error)
	ShutdownAll(ctx context.Context) error
}

// ArgumentValidator resolves references and checks arguments against a signature.
type ArgumentValidator interface {
	Bind(signature Signature, arguments []models.Argument, accumulator models.Accumulator) (map[string]any, error)
}

// Emitter publishes lifecycle and result events. It is fire and forget.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// EmitterFunc adapts a function into an Emitter.
type EmitterFunc func(ctx context.Context, event events.Event)

func (f EmitterFunc) Emit(ctx context.Context, event events.Event) {
	f(ctx, event)
}
