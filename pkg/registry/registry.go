// Package registry holds the apps known to a process and resolves capabilities
// and device instances from them.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/protocol"
)

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	apps   map[string]protocol.App
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log.With("module", "registry"),
		apps:   make(map[string]protocol.App),
	}
}

// LoadAppPlugins opens every *.so under <pluginsPath>/apps and looks up its
// exported App symbol.
func (r *Registry) LoadAppPlugins(pluginsPath string) ([]protocol.App, error) {
	return loadPlugin[protocol.App](r.logger, pluginsPath, "App")
}

// RegisterApp adds or replaces an app.
func (r *Registry) RegisterApp(app protocol.App) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apps[app.ID()] = app
}

// Apps returns the registered app ids in sorted order.
func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// HealthCheck reports whether any app is registered.
func (r *Registry) HealthCheck() (string, bool) {
	apps := r.Apps()
	if len(apps) == 0 {
		return "no apps registered", false
	}

	return fmt.Sprintf("%d apps registered", len(apps)), true
}

// Resolve implements protocol.CapabilityResolver.
func (r *Registry) Resolve(kind protocol.Kind, appName, name string) (protocol.Capability, error) {
	app, err := r.app(appName)
	if err != nil {
		return nil, err
	}

	capability, ok := app.Capability(kind, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", protocol.UnknownCapabilityError(kind), appName, name)
	}

	return capability, nil
}

// NewInstance implements protocol.InstanceFactory.
func (r *Registry) NewInstance(ctx context.Context, appName, deviceID string) (protocol.Instance, error) {
	app, err := r.app(appName)
	if err != nil {
		return nil, err
	}

	return app.NewInstance(ctx, deviceID)
}

func (r *Registry) app(name string) (protocol.App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownApp, name)
	}

	return app, nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "apps")

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	var pluginPathList []string

	err := filepath.WalkDir(rootPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() && filepath.Ext(path) == ".so" {
			pluginPathList = append(pluginPathList, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded app plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
