// Package handlers implements the Fiber route handlers for the Dispatch
// Gateway's public surface: generation control, the settings/history
// read-only surfaces, and the aggregate progress websocket. Static image
// serving out of the output directory is mounted by pkg/api, not here.
package handlers

import (
	"github.com/gpuforge/dispatch/pkg/dispatch"
	"github.com/gpuforge/dispatch/pkg/metadata"
	"github.com/gpuforge/dispatch/pkg/settings"
)

// Handlers bundles the dependencies every route handler needs. One instance
// is built at startup and wired into the Fiber app's routes.
type Handlers struct {
	Core      *dispatch.DispatchCore
	Registry  *settings.Registry
	Store     *metadata.Store
	OutputDir string
}

// New builds a Handlers bundle.
func New(core *dispatch.DispatchCore, settingsRegistry *settings.Registry, store *metadata.Store, outputDir string) *Handlers {
	return &Handlers{
		Core:      core,
		Registry:  settingsRegistry,
		Store:     store,
		OutputDir: outputDir,
	}
}
