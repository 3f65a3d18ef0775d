package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opsforge/opsforge/pkg/shell"
)

// AppUnit describes the systemd unit written for the panel application when
// auto-start is requested and no unit exists yet.
type AppUnit struct {
	// Name is the unit file name, e.g. "forge-panel.service".
	Name string

	// Description for the [Unit] section.
	Description string

	// ExecStart is the full start command line.
	ExecStart string

	// WorkingDir is the service working directory.
	WorkingDir string

	// EnvFile, when set, is sourced optionally (missing file is tolerated).
	EnvFile string

	// Dir is the unit directory; defaults to /etc/systemd/system.
	Dir string
}

// EnsureAppUnit writes the unit file and reloads systemd so the new unit is
// visible. It reports whether the unit was written. Only meaningful on
// systemd hosts; callers treat a false return as "skip auto-start".
func (m *Manager) EnsureAppUnit(ctx context.Context, fs shell.FileSystem, u AppUnit) (bool, error) {
	if m.goos != "linux" || !m.runner.LookPath("systemctl") {
		return false, nil
	}
	if u.Name == "" || u.ExecStart == "" {
		return false, fmt.Errorf("unit name and ExecStart are required")
	}

	dir := u.Dir
	if dir == "" {
		dir = "/etc/systemd/system"
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", u.Description)
	b.WriteString("After=network.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	if u.WorkingDir != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", u.WorkingDir)
	}
	if u.EnvFile != "" {
		// Leading '-' keeps systemd from failing when the file is absent.
		fmt.Fprintf(&b, "EnvironmentFile=-%s\n", u.EnvFile)
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", u.ExecStart)
	b.WriteString("Restart=always\nRestartSec=5\n\n")
	b.WriteString("[Install]\nWantedBy=multi-user.target\n")

	fileName := u.Name
	if !strings.HasSuffix(fileName, ".service") {
		fileName += ".service"
	}
	path := filepath.Join(dir, fileName)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := fs.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("failed to write unit file: %w", err)
	}

	if res := m.runner.Run(ctx, "systemctl", "daemon-reload"); !res.OK {
		return true, fmt.Errorf("daemon-reload failed: %s", res.Stderr)
	}
	return true, nil
}
