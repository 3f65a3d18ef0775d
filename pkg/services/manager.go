// Package services controls OS services across service managers: systemd on
// Linux, brew services on macOS, sc on Windows. Absence of a service manager
// is a structured result, not an error; many CI and container hosts have none.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/shell"
)

// CtlResult is the outcome of an enable/start/stop/disable call.
type CtlResult struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Output string `json:"output,omitempty"`
}

// Status describes a service's current state.
type Status struct {
	OK      bool   `json:"ok"`
	State   string `json:"status"`  // active, inactive, running, stopped, unknown
	Enabled string `json:"enabled"` // enabled, disabled, unknown
	Service string `json:"service,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Error   string `json:"error,omitempty"`
}

// serviceNames maps component identifiers to per-OS service names.
var serviceNames = map[string]map[string]string{
	"database": {
		"linux":  "postgresql",
		"darwin": "postgresql",
		// Best-effort default; varies by installed major version.
		"windows": "postgresql-x64-16",
	},
	"cache": {
		"linux":   "redis-server",
		"darwin":  "redis",
		"windows": "Redis",
	},
	"proxy": {
		"linux":   "nginx",
		"darwin":  "nginx",
		"windows": "nginx",
	},
	"app": {
		"linux":   "forge-panel",
		"darwin":  "forge-panel",
		"windows": "ForgePanel",
	},
}

// NameFor returns the OS service name for a component identifier, falling
// back to the Linux name for unknown OS families. Empty when the component
// has no service (the runtime environment, for one).
func NameFor(component, goos string) string {
	m, ok := serviceNames[component]
	if !ok {
		return ""
	}
	if name, ok := m[goos]; ok {
		return name
	}
	return m["linux"]
}

// Manager dispatches service operations to the host's service manager.
type Manager struct {
	runner shell.Runner
	goos   string
}

// NewManager returns a Manager for the given OS family.
func NewManager(runner shell.Runner, goos string) *Manager {
	return &Manager{runner: runner, goos: goos}
}

// Available reports whether a usable service manager is present.
func (m *Manager) Available() bool {
	switch m.goos {
	case "linux":
		return m.runner.LookPath("systemctl")
	case "darwin":
		return m.runner.LookPath("brew")
	case "windows":
		return m.runner.LookPath("sc")
	}
	return false
}

// Enable marks a service to start at boot.
func (m *Manager) Enable(ctx context.Context, name string) CtlResult {
	log.Debug().Str("service", name).Str("os", m.goos).Msg("enabling service")
	switch m.goos {
	case "linux":
		return m.ctl(ctx, "systemctl", "enable", name)
	case "darwin":
		return m.ctl(ctx, "brew", "services", "start", name)
	case "windows":
		return m.ctl(ctx, "sc", "config", name, "start=", "auto")
	}
	return CtlResult{Error: "unsupported OS: " + m.goos}
}

// Start starts a service.
func (m *Manager) Start(ctx context.Context, name string) CtlResult {
	log.Debug().Str("service", name).Str("os", m.goos).Msg("starting service")
	switch m.goos {
	case "linux":
		return m.ctl(ctx, "systemctl", "start", name)
	case "darwin":
		return m.ctl(ctx, "brew", "services", "start", name)
	case "windows":
		return m.ctl(ctx, "sc", "start", name)
	}
	return CtlResult{Error: "unsupported OS: " + m.goos}
}

// Stop stops a service.
func (m *Manager) Stop(ctx context.Context, name string) CtlResult {
	log.Debug().Str("service", name).Str("os", m.goos).Msg("stopping service")
	switch m.goos {
	case "linux":
		return m.ctl(ctx, "systemctl", "stop", name)
	case "darwin":
		return m.ctl(ctx, "brew", "services", "stop", name)
	case "windows":
		return m.ctl(ctx, "sc", "stop", name)
	}
	return CtlResult{Error: "unsupported OS: " + m.goos}
}

// Disable removes a service from boot startup.
func (m *Manager) Disable(ctx context.Context, name string) CtlResult {
	switch m.goos {
	case "linux":
		return m.ctl(ctx, "systemctl", "disable", name)
	case "darwin":
		return m.ctl(ctx, "brew", "services", "stop", name)
	case "windows":
		return m.ctl(ctx, "sc", "config", name, "start=", "demand")
	}
	return CtlResult{Error: "unsupported OS: " + m.goos}
}

// Exists reports whether the service unit is known to the service manager.
func (m *Manager) Exists(ctx context.Context, name string) bool {
	switch m.goos {
	case "linux":
		if !m.runner.LookPath("systemctl") {
			return false
		}
		return m.runner.Run(ctx, "systemctl", "cat", name).OK
	case "darwin":
		if !m.runner.LookPath("brew") {
			return false
		}
		res := m.runner.Run(ctx, "brew", "services", "list")
		if !res.OK {
			return false
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			fields := strings.Fields(line)
			if len(fields) > 0 && fields[0] == name {
				return true
			}
		}
		return false
	case "windows":
		if !m.runner.LookPath("sc") {
			return false
		}
		return m.runner.Run(ctx, "sc", "query", name).OK
	}
	return false
}

// StatusOf queries the service's active and enabled state.
func (m *Manager) StatusOf(ctx context.Context, name string) Status {
	switch m.goos {
	case "linux":
		return m.systemdStatus(ctx, name)
	case "darwin":
		return m.brewStatus(ctx, name)
	case "windows":
		return m.scStatus(ctx, name)
	}
	return Status{State: "unknown", Enabled: "unknown", Error: "unsupported OS: " + m.goos}
}

func (m *Manager) ctl(ctx context.Context, name string, args ...string) CtlResult {
	if !m.runner.LookPath(name) {
		return CtlResult{Error: name + " not available"}
	}
	res := m.runner.Run(ctx, name, args...)
	out := CtlResult{OK: res.OK, Output: res.Stdout}
	if !res.OK {
		out.Error = res.Stderr
		if out.Error == "" {
			out.Error = res.Error
		}
	}
	return out
}

func (m *Manager) systemdStatus(ctx context.Context, name string) Status {
	if !m.runner.LookPath("systemctl") {
		return Status{State: "unknown", Enabled: "unknown", Error: "systemctl not available"}
	}

	active := m.runner.Run(ctx, "systemctl", "is-active", name)
	enabled := m.runner.Run(ctx, "systemctl", "is-enabled", name)

	st := Status{OK: true, State: firstLine(active.Stdout), Enabled: firstLine(enabled.Stdout)}
	if st.State == "" {
		st.State = "unknown"
	}
	if st.Enabled == "" {
		st.Enabled = "unknown"
	}
	return st
}

func (m *Manager) brewStatus(ctx context.Context, name string) Status {
	if !m.runner.LookPath("brew") {
		return Status{State: "unknown", Enabled: "unknown", Error: "brew not available"}
	}

	res := m.runner.Run(ctx, "brew", "services", "list")
	if !res.OK {
		return Status{State: "unknown", Enabled: "unknown", Error: res.Stderr}
	}

	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != name {
			continue
		}
		state := fields[1]
		st := Status{OK: true, State: state, Enabled: "disabled"}
		switch state {
		case "started":
			st.State = "running"
			st.Enabled = "enabled"
		case "stopped":
			st.State = "stopped"
		}
		return st
	}
	return Status{OK: true, State: "unknown", Enabled: "unknown"}
}

// scStates maps sc.exe numeric states to readable names.
var scStates = map[string]string{
	"1": "stopped",
	"2": "start_pending",
	"3": "stop_pending",
	"4": "running",
	"5": "continue_pending",
	"6": "pause_pending",
	"7": "paused",
}

func (m *Manager) scStatus(ctx context.Context, name string) Status {
	if !m.runner.LookPath("sc") {
		return Status{State: "unknown", Enabled: "unknown", Error: "sc not available"}
	}

	res := m.runner.Run(ctx, "sc", "query", name)
	if !res.OK {
		return Status{State: "unknown", Enabled: "unknown", Error: res.Stderr, Raw: res.Stdout}
	}

	st := Status{OK: true, State: "unknown", Enabled: "unknown", Raw: res.Stdout}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "STATE") {
			continue
		}
		fields := strings.Fields(line)
		// e.g. ["STATE", ":", "4", "RUNNING"]
		if len(fields) >= 3 {
			if mapped, ok := scStates[fields[2]]; ok {
				st.State = mapped
			} else {
				st.State = strings.ToLower(fields[len(fields)-1])
			}
		}
		break
	}
	return st
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
