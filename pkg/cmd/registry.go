package cmd

import (
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/apps/builtin"
	"github.com/99scratch/WALKOFF/pkg/registry"
)

func registerAppPlugins(reg *registry.Registry, pluginsPath string) {
	if pluginsPath == "" {
		return
	}

	apps, err := reg.LoadAppPlugins(pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, app := range apps {
		reg.RegisterApp(app)
	}
}

func registerNativeApps(reg *registry.Registry) {
	app, err := builtin.NewApp()
	if err != nil {
		panic(err)
	}

	reg.RegisterApp(app)
}

// NewRegistry returns a registry holding the builtin app and every app
// plugin found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeApps(reg)
	registerAppPlugins(reg, pluginsPath)

	return reg
}
