package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/protocol"
)

type instanceKey struct {
	app    string
	device string
}

// InstanceRepository creates device instances lazily and shares them between
// the actions of one run that use the same app and device.
type InstanceRepository struct {
	factory protocol.InstanceFactory

	mu        sync.Mutex
	instances map[instanceKey]protocol.Instance
}

func NewInstanceRepository(factory protocol.InstanceFactory) *InstanceRepository {
	return &InstanceRepository{
		factory:   factory,
		instances: make(map[instanceKey]protocol.Instance),
	}
}

func (r *InstanceRepository) Acquire(ctx context.Context, app, deviceID string) (protocol.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := instanceKey{app: app, device: deviceID}
	if instance, ok := r.instances[key]; ok {
		return instance, nil
	}

	if r.factory == nil {
		return nil, fmt.Errorf("%w: no instance factory for %s", protocol.ErrUnknownDevice, app)
	}

	instance, err := r.factory.NewInstance(ctx, app, deviceID)
	if err != nil {
		return nil, err
	}

	r.instances[key] = instance

	return instance, nil
}

// ShutdownAll shuts every acquired instance down and forgets them.
func (r *InstanceRepository) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for key, instance := range r.instances {
		err := instance.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s/%s: %w", key.app, key.device, err))
		}

		delete(r.instances, key)
	}

	return errors.Join(errs...)
}

// Len returns the number of live instances.
func (r *InstanceRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.instances)
}
