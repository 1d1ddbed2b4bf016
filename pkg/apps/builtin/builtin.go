// Package builtin provides the app every process registers by default: a few
// general purpose actions, expression based conditions (expr, CEL) and data
// transforms (jq, Go templates).
package builtin

import (
	"context"
	"fmt"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/protocol"
	"github.com/99scratch/WALKOFF/pkg/registry"
)

const AppName = "builtin"

// DataParameter is where conditions and transforms receive their input.
const DataParameter = "data"

// NewApp assembles the builtin app.
func NewApp() (*registry.App, error) {
	celEngine, err := newCELEngine()
	if err != nil {
		return nil, err
	}

	exprEngine := newExprEngine()
	jqEngine := newJQEngine()
	devices := &deviceTracker{live: make(map[string]int)}

	app := registry.NewApp(AppName).
		WithAction("echo", echoAction()).
		WithAction("add", addAction()).
		WithAction("fail", failAction()).
		WithAction("sleep", sleepAction()).
		WithAction("set_status", setStatusAction()).
		WithAction("device_info", deviceInfoAction()).
		WithCondition("expression", exprEngine.condition()).
		WithCondition("cel", celEngine.condition()).
		WithCondition("equals", equalsCondition()).
		WithCondition("matches", matchesCondition()).
		WithTransform("jq", jqEngine.transform()).
		WithTransform("template", templateTransform()).
		WithTransform("length", lengthTransform()).
		WithInstances(devices.open)

	return app, nil
}

// Instance is the device bound instance handed to builtin actions.
type Instance struct {
	DeviceID string

	tracker *deviceTracker
	once    sync.Once
}

func (i *Instance) Shutdown(context.Context) error {
	i.once.Do(func() {
		i.tracker.close(i.DeviceID)
	})

	return nil
}

type deviceTracker struct {
	mu   sync.Mutex
	live map[string]int
}

func (d *deviceTracker) open(_ context.Context, deviceID string) (protocol.Instance, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", protocol.ErrUnknownDevice)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.live[deviceID]++

	return &Instance{DeviceID: deviceID, tracker: d}, nil
}

func (d *deviceTracker) close(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.live[deviceID]--
	if d.live[deviceID] <= 0 {
		delete(d.live, deviceID)
	}
}
