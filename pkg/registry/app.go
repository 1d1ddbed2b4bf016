package registry

import (
	"context"

	"github.com/99scratch/WALKOFF/pkg/protocol"
)

// App is a protocol.App assembled from capability maps.
type App struct {
	id           string
	capabilities map[protocol.Kind]map[string]protocol.Capability
	newInstance  func(ctx context.Context, deviceID string) (protocol.Instance, error)
}

func NewApp(id string) *App {
	return &App{
		id: id,
		capabilities: map[protocol.Kind]map[string]protocol.Capability{
			protocol.KindAction:    {},
			protocol.KindCondition: {},
			protocol.KindTransform: {},
		},
		newInstance: func(context.Context, string) (protocol.Instance, error) {
			return noopInstance{}, nil
		},
	}
}

func (a *App) WithAction(name string, capability protocol.Capability) *App {
	a.capabilities[protocol.KindAction][name] = capability

	return a
}

func (a *App) WithCondition(name string, capability protocol.Capability) *App {
	a.capabilities[protocol.KindCondition][name] = capability

	return a
}

func (a *App) WithTransform(name string, capability protocol.Capability) *App {
	a.capabilities[protocol.KindTransform][name] = capability

	return a
}

// WithInstances sets the factory for device bound instances.
func (a *App) WithInstances(factory func(ctx context.Context, deviceID string) (protocol.Instance, error)) *App {
	a.newInstance = factory

	return a
}

func (a *App) ID() string {
	return a.id
}

func (a *App) Capability(kind protocol.Kind, name string) (protocol.Capability, bool) {
	capability, ok := a.capabilities[kind][name]

	return capability, ok
}

func (a *App) NewInstance(ctx context.Context, deviceID string) (protocol.Instance, error) {
	return a.newInstance(ctx, deviceID)
}

type noopInstance struct{}

func (noopInstance) Shutdown(context.Context) error {
	return nil
}
