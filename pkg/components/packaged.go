package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/shell"
)

// pkgCommand is one package-manager invocation. Compound commands (apt's
// update && install) go through the shell; everything else runs directly.
type pkgCommand struct {
	line     string
	compound bool
}

// packaged implements the shared flow for components delivered through the
// system package manager: probe, fail fast unprivileged, dry-run preview,
// install, then best-effort service enable+start.
type packaged struct {
	deps      Deps
	component Component
	pkgName   string
	probe     string
	installBy map[string]pkgCommand
	removeBy  map[string]pkgCommand
}

func (p *packaged) Component() Component { return p.component }

func (p *packaged) IsInstalled(_ context.Context) bool {
	return p.deps.Runner.LookPath(p.probe)
}

func (p *packaged) serviceName() string {
	return services.NameFor(string(p.component), p.deps.GOOS)
}

// manager returns the effective package manager, defaulting to apt so a bare
// Debian chroot without apt on PATH still gets a sensible preview.
func (p *packaged) manager() string {
	if p.deps.PackageManager == "" {
		return "apt"
	}
	return p.deps.PackageManager
}

func (p *packaged) install(ctx context.Context, opts InstallOptions) Result {
	if p.IsInstalled(ctx) {
		return Result{Installed: true, Skipped: true, Message: p.probe + " already available"}
	}

	pm := p.manager()
	cmd, known := p.installBy[pm]

	if !opts.Elevate {
		preview := cmd.line
		if !known {
			preview = fmt.Sprintf("install %s via %s", p.pkgName, pm)
		}
		return Result{
			Error:   fmt.Sprintf("elevation required to install system package %q", p.pkgName),
			Hint:    fmt.Sprintf("Re-run with elevation or install %s manually", p.pkgName),
			Command: preview,
		}
	}

	if !known {
		return Result{Message: fmt.Sprintf("no installer configured for package manager: %s", pm)}
	}

	if opts.DryRun {
		return Result{Command: cmd.line}
	}

	log.Info().Str("component", string(p.component)).Str("cmd", cmd.line).Msg("installing package")

	res := p.runPkg(ctx, cmd)
	if !res.OK {
		msg := res.Stderr
		if msg == "" {
			msg = res.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("command exited with code %d", res.ExitCode)
		}
		return Result{Error: msg, Command: cmd.line}
	}

	out := Result{Installed: true, Message: p.pkgName + " installed"}
	p.startService(ctx, &out)
	return out
}

// startService is the best-effort post-install enable+start. A missing
// service manager must not fail the install.
func (p *packaged) startService(ctx context.Context, out *Result) {
	name := p.serviceName()
	if name == "" || p.deps.Services == nil {
		return
	}
	if !p.deps.Services.Available() {
		out.ServiceError = "service manager not available"
		return
	}
	en := p.deps.Services.Enable(ctx, name)
	st := p.deps.Services.Start(ctx, name)
	if en.OK && st.OK {
		out.Service = name
		return
	}
	if st.Error != "" {
		out.ServiceError = st.Error
	} else {
		out.ServiceError = en.Error
	}
}

func (p *packaged) uninstall(ctx context.Context, opts UninstallOptions) Result {
	svc := p.serviceName()

	if opts.DryRun {
		return Result{Command: fmt.Sprintf("(dry-run) stop/disable %s; optionally remove packages", svc)}
	}

	out := Result{}
	if svc != "" && p.deps.Services != nil {
		if p.deps.Services.Stop(ctx, svc).OK {
			out.Stopped = true
		}
		if p.deps.Services.Disable(ctx, svc).OK {
			out.Disabled = true
		}
	}

	if !opts.PreserveData {
		if cmd, ok := p.removeBy[p.manager()]; ok {
			res := p.runPkg(ctx, cmd)
			if res.OK {
				out.PackagesRemoved = true
			} else {
				out.PackagesError = res.Stderr
				if out.PackagesError == "" {
					out.PackagesError = res.Error
				}
			}
		}
	}

	return out
}

func (p *packaged) runPkg(ctx context.Context, cmd pkgCommand) shell.Result {
	if cmd.compound {
		return p.deps.Runner.RunShell(ctx, cmd.line)
	}
	fields := strings.Fields(cmd.line)
	return p.deps.Runner.Run(ctx, fields[0], fields[1:]...)
}
