package components

import (
	"context"
	"fmt"
	"path/filepath"
)

// DefaultVenvPath is where the panel's interpreter environment lives when the
// caller does not pick a target.
const DefaultVenvPath = "/opt/forge/venv"

// RuntimeDriver provisions an isolated Python environment for the panel.
type RuntimeDriver struct {
	deps Deps
}

// NewRuntimeDriver returns the runtime component driver.
func NewRuntimeDriver(deps Deps) *RuntimeDriver {
	return &RuntimeDriver{deps: deps}
}

func (d *RuntimeDriver) Component() Component { return Runtime }

// IsInstalled reports whether the default venv target has an interpreter.
func (d *RuntimeDriver) IsInstalled(ctx context.Context) bool {
	return d.installedAt(DefaultVenvPath)
}

func (d *RuntimeDriver) installedAt(target string) bool {
	return d.deps.FS.Exists(d.interpreterPath(target))
}

func (d *RuntimeDriver) interpreterPath(target string) string {
	if d.deps.GOOS == "windows" {
		return filepath.Join(target, "Scripts", "python.exe")
	}
	return filepath.Join(target, "bin", "python")
}

func (d *RuntimeDriver) python() (string, bool) {
	for _, name := range []string{"python3", "python"} {
		if d.deps.Runner.LookPath(name) {
			return name, true
		}
	}
	return "", false
}

// Install creates the venv. A pre-existing environment is left alone.
func (d *RuntimeDriver) Install(ctx context.Context, opts InstallOptions) Result {
	target := opts.Target
	if target == "" {
		target = DefaultVenvPath
	}

	if d.installedAt(target) {
		return Result{Installed: true, Skipped: true, Path: target, Message: "virtual environment already present"}
	}

	py, ok := d.python()
	if !ok {
		return Result{
			Error: "python interpreter not found",
			Hint:  "Install Python 3 and re-run",
		}
	}

	cmd := fmt.Sprintf("%s -m venv %s", py, target)
	if opts.DryRun {
		return Result{Command: cmd, Path: target}
	}

	if err := d.deps.FS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Result{Error: err.Error(), Path: target}
	}
	if res := d.deps.Runner.Run(ctx, py, "-m", "venv", target); !res.OK {
		msg := res.Stderr
		if msg == "" {
			msg = res.Error
		}
		return Result{Error: "venv creation failed: " + msg, Command: cmd, Path: target}
	}
	return Result{Installed: true, Path: target, Command: cmd}
}

// Uninstall removes the environment directory unless data is preserved.
func (d *RuntimeDriver) Uninstall(ctx context.Context, opts UninstallOptions) Result {
	target := opts.Target
	if target == "" {
		target = DefaultVenvPath
	}

	if opts.PreserveData {
		return Result{Uninstalled: true, Skipped: true, Path: target, Message: "environment preserved"}
	}
	if opts.DryRun {
		return Result{Command: "rm -rf " + target, Path: target}
	}
	if !d.deps.FS.Exists(target) {
		return Result{Uninstalled: true, Skipped: true, Path: target, Message: "nothing to remove"}
	}
	if err := d.deps.FS.RemoveAll(target); err != nil {
		return Result{Error: err.Error(), Path: target}
	}
	return Result{Uninstalled: true, Path: target}
}
