package services

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/opsforge/opsforge/pkg/shell"
)

// fakeRunner scripts per-command results and records every invocation.
type fakeRunner struct {
	available map[string]bool
	results   map[string]shell.Result
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) shell.Result {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if res, ok := f.results[key]; ok {
		return res
	}
	return shell.Result{OK: true}
}

func (f *fakeRunner) RunShell(_ context.Context, cmdline string) shell.Result {
	f.calls = append(f.calls, cmdline)
	if res, ok := f.results[cmdline]; ok {
		return res
	}
	return shell.Result{OK: true}
}

func (f *fakeRunner) LookPath(name string) bool {
	return f.available[name]
}

// memFS keeps written files in a map.
type memFS struct {
	files map[string][]byte
}

func newMemFS() *memFS {
	return &memFS{files: map[string][]byte{}}
}

func (m *memFS) WriteFile(path string, data []byte, _ fs.FileMode) error {
	m.files[path] = data
	return nil
}
func (m *memFS) MkdirAll(string, fs.FileMode) error { return nil }
func (m *memFS) Symlink(_, newname string) error {
	m.files[newname] = nil
	return nil
}
func (m *memFS) Remove(path string) error {
	delete(m.files, path)
	return nil
}
func (m *memFS) RemoveAll(path string) error {
	for k := range m.files {
		if strings.HasPrefix(k, path) {
			delete(m.files, k)
		}
	}
	return nil
}
func (m *memFS) Exists(path string) bool {
	_, ok := m.files[path]
	return ok
}

func TestNameFor(t *testing.T) {
	tests := []struct {
		component string
		goos      string
		want      string
	}{
		{"database", "linux", "postgresql"},
		{"cache", "linux", "redis-server"},
		{"cache", "darwin", "redis"},
		{"proxy", "windows", "nginx"},
		{"app", "linux", "forge-panel"},
		{"database", "freebsd", "postgresql"}, // falls back to linux
		{"runtime", "linux", ""},              // no service
	}

	for _, tt := range tests {
		if got := NameFor(tt.component, tt.goos); got != tt.want {
			t.Errorf("NameFor(%q, %q) = %q, want %q", tt.component, tt.goos, got, tt.want)
		}
	}
}

func TestManagerMissingTool(t *testing.T) {
	r := &fakeRunner{available: map[string]bool{}}
	m := NewManager(r, "linux")

	if m.Available() {
		t.Error("expected manager unavailable without systemctl")
	}

	res := m.Start(context.Background(), "nginx")
	if res.OK {
		t.Error("expected failure")
	}
	if res.Error != "systemctl not available" {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestManagerLinuxDispatch(t *testing.T) {
	r := &fakeRunner{available: map[string]bool{"systemctl": true}}
	m := NewManager(r, "linux")

	m.Enable(context.Background(), "nginx")
	m.Start(context.Background(), "nginx")
	m.Stop(context.Background(), "nginx")
	m.Disable(context.Background(), "nginx")

	want := []string{
		"systemctl enable nginx",
		"systemctl start nginx",
		"systemctl stop nginx",
		"systemctl disable nginx",
	}
	if len(r.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(r.calls), r.calls)
	}
	for i, w := range want {
		if r.calls[i] != w {
			t.Errorf("call %d: expected %q, got %q", i, w, r.calls[i])
		}
	}
}

func TestSystemdStatus(t *testing.T) {
	r := &fakeRunner{
		available: map[string]bool{"systemctl": true},
		results: map[string]shell.Result{
			"systemctl is-active nginx":  {OK: true, Stdout: "active"},
			"systemctl is-enabled nginx": {OK: true, Stdout: "enabled"},
		},
	}
	m := NewManager(r, "linux")

	st := m.StatusOf(context.Background(), "nginx")
	if !st.OK {
		t.Fatalf("expected OK, got %+v", st)
	}
	if st.State != "active" || st.Enabled != "enabled" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestBrewStatusParsing(t *testing.T) {
	list := "Name    Status  User File\nnginx   started root ~/Library/LaunchAgents\nredis   stopped\n"
	r := &fakeRunner{
		available: map[string]bool{"brew": true},
		results: map[string]shell.Result{
			"brew services list": {OK: true, Stdout: list},
		},
	}
	m := NewManager(r, "darwin")

	st := m.StatusOf(context.Background(), "nginx")
	if st.State != "running" || st.Enabled != "enabled" {
		t.Errorf("expected running/enabled, got %+v", st)
	}

	st = m.StatusOf(context.Background(), "redis")
	if st.State != "stopped" {
		t.Errorf("expected stopped, got %+v", st)
	}

	st = m.StatusOf(context.Background(), "postgresql")
	if st.State != "unknown" {
		t.Errorf("expected unknown for unlisted service, got %+v", st)
	}
}

func TestScStatusParsing(t *testing.T) {
	out := "SERVICE_NAME: Redis\n        TYPE               : 10  WIN32_OWN_PROCESS\n        STATE              : 4  RUNNING\n"
	r := &fakeRunner{
		available: map[string]bool{"sc": true},
		results: map[string]shell.Result{
			"sc query Redis": {OK: true, Stdout: out},
		},
	}
	m := NewManager(r, "windows")

	st := m.StatusOf(context.Background(), "Redis")
	if st.State != "running" {
		t.Errorf("expected running, got %+v", st)
	}
}

func TestEnsureAppUnit(t *testing.T) {
	r := &fakeRunner{available: map[string]bool{"systemctl": true}}
	f := newMemFS()
	m := NewManager(r, "linux")

	created, err := m.EnsureAppUnit(context.Background(), f, AppUnit{
		Name:        "forge-panel",
		Description: "Forge panel",
		ExecStart:   "/opt/forge/venv/bin/python -m forge_panel",
		WorkingDir:  "/opt/forge",
		EnvFile:     "/etc/forge/panel.env",
		Dir:         "/tmp/units",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected unit to be written")
	}

	content := string(f.files["/tmp/units/forge-panel.service"])
	if content == "" {
		t.Fatal("unit file not written")
	}
	for _, want := range []string{
		"Description=Forge panel",
		"ExecStart=/opt/forge/venv/bin/python -m forge_panel",
		"EnvironmentFile=-/etc/forge/panel.env",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("unit file missing %q:\n%s", want, content)
		}
	}

	if r.calls[len(r.calls)-1] != "systemctl daemon-reload" {
		t.Errorf("expected daemon-reload, got %v", r.calls)
	}
}

func TestEnsureAppUnitNonSystemd(t *testing.T) {
	r := &fakeRunner{available: map[string]bool{}}
	m := NewManager(r, "linux")

	created, err := m.EnsureAppUnit(context.Background(), newMemFS(), AppUnit{Name: "x", ExecStart: "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected no-op without systemctl")
	}
}
