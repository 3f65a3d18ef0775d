// Package components implements the install/uninstall drivers for the
// infrastructure the panel depends on: a PostgreSQL database, a Redis cache,
// an nginx reverse proxy and a Python runtime environment. Drivers form a
// closed set behind one interface; the orchestrator selects them through a
// plain registry map, never by reflection.
package components

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/shell"
)

// Component identifies a manageable component.
type Component string

const (
	// Database is the relational database engine (PostgreSQL).
	Database Component = "database"

	// Cache is the in-memory cache engine (Redis).
	Cache Component = "cache"

	// Proxy is the reverse proxy (nginx).
	Proxy Component = "proxy"

	// Runtime is the language runtime environment for the panel.
	Runtime Component = "runtime"

	// App is the panel application itself; it has no driver and only appears
	// in recorded actions for the auto-start step.
	App Component = "app"
)

// Installable is the set of components with drivers, in the default order a
// full install uses.
var Installable = []Component{Database, Cache, Proxy, Runtime}

// Parse validates a component identifier.
func Parse(s string) (Component, error) {
	switch Component(s) {
	case Database, Cache, Proxy, Runtime, App:
		return Component(s), nil
	}
	return "", fmt.Errorf("unknown component: %q", s)
}

// Result is the uniform outcome of every driver operation. The orchestrator
// depends only on this shape and never inspects driver internals.
type Result struct {
	Installed       bool   `json:"installed,omitempty"`
	Uninstalled     bool   `json:"uninstalled,omitempty"`
	Skipped         bool   `json:"skipped,omitempty"`
	Stopped         bool   `json:"stopped,omitempty"`
	Disabled        bool   `json:"disabled,omitempty"`
	PackagesRemoved bool   `json:"packages_removed,omitempty"`
	Command         string `json:"cmd,omitempty"`
	Message         string `json:"msg,omitempty"`
	Error           string `json:"error,omitempty"`
	Hint            string `json:"hint,omitempty"`
	Path            string `json:"path,omitempty"`
	Service         string `json:"service,omitempty"`
	ServiceError    string `json:"service_error,omitempty"`
	PackagesError   string `json:"packages_error,omitempty"`
}

// Succeeded reports whether an uninstall attempt did enough to retire the
// recorded action: the component was uninstalled, its service stopped, or
// its packages removed.
func (r Result) Succeeded() bool {
	return r.Uninstalled || r.Stopped || r.PackagesRemoved || r.Installed
}

// Meta flattens the result into the free-form payload recorded on actions.
func (r Result) Meta() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	meta := map[string]any{}
	_ = json.Unmarshal(raw, &meta)
	return meta
}

// InstallOptions carries the per-call install flags.
type InstallOptions struct {
	// DryRun reports the command that would run without mutating anything.
	DryRun bool

	// Elevate indicates the caller holds (or will hold) elevated rights.
	// When false, privileged operations fail fast with a descriptive result.
	Elevate bool

	// Target is a driver-specific install path (the runtime environment
	// directory). Empty for package-managed components.
	Target string
}

// UninstallOptions carries the per-call uninstall flags.
type UninstallOptions struct {
	// PreserveData stops and disables services but keeps packages and data.
	PreserveData bool

	// DryRun reports the operation without mutating anything.
	DryRun bool

	// Target is the install path recorded at install time, if any.
	Target string
}

// Driver is the uniform contract every component implements.
type Driver interface {
	// Component returns the identifier this driver manages.
	Component() Component

	// IsInstalled is a best-effort presence probe. It never fails; absence
	// of evidence means "not installed".
	IsInstalled(ctx context.Context) bool

	// Install installs the component, or reports what would run on dry-run.
	Install(ctx context.Context, opts InstallOptions) Result

	// Uninstall removes the component, honoring PreserveData and DryRun.
	Uninstall(ctx context.Context, opts UninstallOptions) Result
}

// Deps bundles what drivers need to act on a host. Handing these in
// explicitly keeps drivers testable and lets the SSH transport substitute
// remote implementations.
type Deps struct {
	Runner         shell.Runner
	FS             shell.FileSystem
	Services       *services.Manager
	PackageManager string
	GOOS           string
}

// Registry maps component identifiers to their drivers.
type Registry map[Component]Driver

// NewRegistry builds the closed driver set.
func NewRegistry(deps Deps) Registry {
	return Registry{
		Database: NewPostgresDriver(deps),
		Cache:    NewRedisDriver(deps),
		Proxy:    NewNginxDriver(deps),
		Runtime:  NewRuntimeDriver(deps),
	}
}
