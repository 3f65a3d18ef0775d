package orchestrator

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsforge/opsforge/pkg/components"
	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/hostenv"
	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/shell"
	"github.com/opsforge/opsforge/pkg/state"
)

// fakeDriver scripts install and uninstall results. Uninstall results pop
// from a queue so retry behavior can differ between attempts.
type fakeDriver struct {
	comp           components.Component
	installRes     components.Result
	uninstallQueue []components.Result

	installCalls   []components.InstallOptions
	uninstallCalls []components.UninstallOptions
}

func (f *fakeDriver) Component() components.Component    { return f.comp }
func (f *fakeDriver) IsInstalled(_ context.Context) bool { return false }

func (f *fakeDriver) Install(_ context.Context, opts components.InstallOptions) components.Result {
	f.installCalls = append(f.installCalls, opts)
	return f.installRes
}

func (f *fakeDriver) Uninstall(_ context.Context, opts components.UninstallOptions) components.Result {
	f.uninstallCalls = append(f.uninstallCalls, opts)
	if len(f.uninstallQueue) == 0 {
		return components.Result{Uninstalled: true}
	}
	res := f.uninstallQueue[0]
	if len(f.uninstallQueue) > 1 {
		f.uninstallQueue = f.uninstallQueue[1:]
	}
	return res
}

type stubRunner struct {
	paths map[string]bool
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) shell.Result {
	return shell.Result{OK: true}
}
func (s *stubRunner) RunShell(_ context.Context, _ string) shell.Result {
	return shell.Result{OK: true}
}
func (s *stubRunner) LookPath(name string) bool { return s.paths[name] }

type nullFS struct{ files map[string][]byte }

func (n *nullFS) WriteFile(path string, data []byte, _ fs.FileMode) error {
	if n.files == nil {
		n.files = map[string][]byte{}
	}
	n.files[path] = data
	return nil
}
func (n *nullFS) MkdirAll(string, fs.FileMode) error { return nil }
func (n *nullFS) Symlink(string, string) error       { return nil }
func (n *nullFS) Remove(string) error                { return nil }
func (n *nullFS) RemoveAll(string) error             { return nil }
func (n *nullFS) Exists(string) bool                 { return false }

type progressLog struct {
	steps []Step
}

func (p *progressLog) record(step Step, _ string, _ map[string]any) {
	p.steps = append(p.steps, step)
}

func (p *progressLog) has(step Step) bool {
	for _, s := range p.steps {
		if s == step {
			return true
		}
	}
	return false
}

type testEnv struct {
	orch     *Orchestrator
	store    *state.Store
	drivers  map[components.Component]*fakeDriver
	progress *progressLog
	fs       *nullFS
	elevated int
}

func newTestEnv(t *testing.T, comps ...components.Component) *testEnv {
	t.Helper()
	runner := &stubRunner{paths: map[string]bool{
		"apt-get": true, "systemctl": true, "launchctl": true, "psql": true,
	}}
	env := &testEnv{
		store:    state.NewStore(filepath.Join(t.TempDir(), "state.json")),
		drivers:  map[components.Component]*fakeDriver{},
		progress: &progressLog{},
		fs:       &nullFS{},
	}
	reg := components.Registry{}
	for _, c := range comps {
		d := &fakeDriver{comp: c, installRes: components.Result{Installed: true}}
		env.drivers[c] = d
		reg[c] = d
	}
	env.orch = New(Options{
		Registry: reg,
		Store:    env.store,
		Services: services.NewManager(runner, "linux"),
		Runner:   runner,
		FS:       env.fs,
		Host:     hostenv.Info{OSFamily: "linux", Arch: "amd64", PackageManager: "apt"},
		Progress: env.progress.record,
		Elevator: func(context.Context) error {
			env.elevated++
			return nil
		},
		EnvFileDir: t.TempDir(),
	})
	return env
}

func testProfile() *config.Profile {
	return &config.Profile{
		Domain: "panel.example.com",
		Database: config.DatabaseConfig{
			Name: "forge_panel", User: "forge", Host: "127.0.0.1", Port: 5432,
		},
		App: config.AppConfig{Port: 8080, WorkingDir: "/opt/forge"},
	}
}

func componentsOf(t *testing.T, s *state.Store) []string {
	t.Helper()
	st, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, a := range st.Actions {
		out = append(out, a.Component)
	}
	return out
}

func seedActions(t *testing.T, s *state.Store, comps ...string) {
	t.Helper()
	for _, c := range comps {
		if err := s.AppendAction(c, map[string]any{"installed": true}, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInstallAllRecordsActionsInOrder(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache, components.Runtime)

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database, components.Cache, components.Runtime},
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}

	got := componentsOf(t, env.store)
	want := []string{"database", "cache", "runtime"}
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d = %q, want %q", i, got[i], want[i])
		}
	}
	if !env.progress.has(StepStart) || !env.progress.has(StepInstalled) || !env.progress.has(StepDone) {
		t.Errorf("missing progress steps: %v", env.progress.steps)
	}
}

func TestInstallSkippedProducesNoAction(t *testing.T) {
	env := newTestEnv(t, components.Cache)
	env.drivers[components.Cache].installRes = components.Result{Installed: true, Skipped: true}

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Cache},
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if got := componentsOf(t, env.store); len(got) != 0 {
		t.Errorf("skipped install must not record an action: %v", got)
	}
	if !env.progress.has(StepSkipped) {
		t.Errorf("expected a skipped event: %v", env.progress.steps)
	}
}

func TestInstallFailureContinuesLoop(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache, components.Runtime)
	env.drivers[components.Cache].installRes = components.Result{Error: "mirror unreachable"}

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database, components.Cache, components.Runtime},
	})
	if res.Status != "error" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(env.drivers[components.Runtime].installCalls) != 1 {
		t.Error("a component failure must not abort the loop")
	}

	got := componentsOf(t, env.store)
	if len(got) != 2 || got[0] != "database" || got[1] != "runtime" {
		t.Errorf("failed install must not record an action: %v", got)
	}
}

func TestInstallDryRunShortCircuitsOnMissingPrereqs(t *testing.T) {
	env := newTestEnv(t, components.Database)
	// No tools on PATH at all.
	env.orch.runner = &stubRunner{paths: map[string]bool{}}

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database},
		DryRun:     true,
	})
	if res.Status != "dry-run" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(res.MissingPrereqs) == 0 {
		t.Error("expected missing prerequisites")
	}
	if len(env.drivers[components.Database].installCalls) != 0 {
		t.Error("dry run with missing prereqs must not reach drivers")
	}
}

func TestInstallDryRunRecordsNothing(t *testing.T) {
	env := newTestEnv(t, components.Database)
	env.drivers[components.Database].installRes = components.Result{Command: "apt-get install -y postgresql"}

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database},
		DryRun:     true,
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	calls := env.drivers[components.Database].installCalls
	if len(calls) != 1 || !calls[0].DryRun {
		t.Fatalf("driver must be called with DryRun: %+v", calls)
	}
	if got := componentsOf(t, env.store); len(got) != 0 {
		t.Errorf("dry run must not record actions: %v", got)
	}
	if len(env.fs.files) != 0 {
		t.Errorf("dry run must not write files: %v", env.fs.files)
	}
}

func TestInstallElevationFailureAbortsRun(t *testing.T) {
	env := newTestEnv(t, components.Database)
	env.orch.elevator = func(context.Context) error { return errors.New("pkexec dismissed") }

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database},
		Elevate:    true,
	})
	if res.Status != "error" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(env.drivers[components.Database].installCalls) != 0 {
		t.Error("no driver may run after failed elevation")
	}
}

func TestInstallElevatesOnceAndPassesFlag(t *testing.T) {
	env := newTestEnv(t, components.Database)

	env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Database},
		Elevate:    true,
	})
	if env.elevated != 1 {
		t.Errorf("elevator invoked %d times", env.elevated)
	}
	calls := env.drivers[components.Database].installCalls
	if len(calls) != 1 || !calls[0].Elevate {
		t.Errorf("driver must see the elevate flag: %+v", calls)
	}
	if !env.orch.host.Privileged {
		t.Error("host must be marked privileged after elevation")
	}
}

func TestInstallDefaultsToAllInstallable(t *testing.T) {
	env := newTestEnv(t, components.Installable...)

	res := env.orch.InstallAll(context.Background(), InstallRequest{Profile: testProfile()})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if len(res.Components) != len(components.Installable) {
		t.Errorf("expected %d outcomes, got %d", len(components.Installable), len(res.Components))
	}
}

func TestInstallRuntimeTargetFromProfile(t *testing.T) {
	env := newTestEnv(t, components.Runtime)
	profile := testProfile()
	profile.Paths.Venv = "/srv/panel/venv"

	env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    profile,
		Components: []components.Component{components.Runtime},
	})
	calls := env.drivers[components.Runtime].installCalls
	if len(calls) != 1 || calls[0].Target != "/srv/panel/venv" {
		t.Errorf("runtime target not threaded through: %+v", calls)
	}
}

func TestInstallWritesPanelEnv(t *testing.T) {
	env := newTestEnv(t, components.Cache)
	profile := testProfile()
	profile.Database.Password = "pw"

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    profile,
		Components: []components.Component{components.Cache},
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}

	var content string
	for path, data := range env.fs.files {
		if filepath.Base(path) == "panel.env" {
			content = string(data)
		}
	}
	if content == "" {
		t.Fatalf("panel env file not written: %v", env.fs.files)
	}
	for _, want := range []string{
		"DATABASE_URL=postgresql://forge:pw@127.0.0.1:5432/forge_panel",
		"REDIS_URL=redis://127.0.0.1:6379/0",
		"PUBLIC_URL=http://panel.example.com",
		"PORT=8080",
		"SECRET_KEY=",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("panel env missing %q:\n%s", want, content)
		}
	}
}

func TestInstallFailedProxySkipsVhostConfig(t *testing.T) {
	env := newTestEnv(t)
	runner := &stubRunner{paths: map[string]bool{"apt-get": true, "systemctl": true}}
	env.orch.reg[components.Proxy] = components.NewNginxDriver(components.Deps{
		Runner: runner, FS: env.fs,
		Services:       services.NewManager(runner, "linux"),
		PackageManager: "apt", GOOS: "linux",
	})

	// Unprivileged and no elevation: the nginx install fails fast. The
	// vhost step must not run on top of that failure.
	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Proxy},
	})
	if res.Status != "error" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want just the install failure", res.Errors)
	}
	if strings.Contains(res.Errors[0], "proxy config:") {
		t.Errorf("vhost config ran after a failed install: %v", res.Errors)
	}
	for path := range env.fs.files {
		if filepath.Base(path) == "forge-panel.conf" {
			t.Errorf("vhost written despite failed install: %s", path)
		}
	}
}

func TestInstallConfiguresProxyWhenAlreadyPresent(t *testing.T) {
	env := newTestEnv(t)
	runner := &stubRunner{paths: map[string]bool{"apt-get": true, "systemctl": true, "nginx": true}}
	env.orch.reg[components.Proxy] = components.NewNginxDriver(components.Deps{
		Runner: runner, FS: env.fs,
		Services:       services.NewManager(runner, "linux"),
		PackageManager: "apt", GOOS: "linux",
	})

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:    testProfile(),
		Components: []components.Component{components.Proxy},
		Elevate:    true,
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}

	found := false
	for path, data := range env.fs.files {
		if filepath.Base(path) == "forge-panel.conf" {
			found = true
			if !strings.Contains(string(data), "server_name panel.example.com") {
				t.Errorf("vhost missing server_name:\n%s", data)
			}
		}
	}
	if !found {
		t.Errorf("vhost not written for an already-present proxy: %v", env.fs.files)
	}
}

func TestUninstallReverseOrder(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache, components.Runtime)
	seedActions(t, env.store, "database", "cache", "runtime")

	res := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d", res.Remaining)
	}

	want := []string{"runtime", "cache", "database"}
	if len(res.Outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	for i, w := range want {
		if res.Outcomes[i].Component != w {
			t.Errorf("outcome %d = %q, want %q", i, res.Outcomes[i].Component, w)
		}
		if !res.Outcomes[i].Removed {
			t.Errorf("outcome %d not removed from log", i)
		}
	}
	if got := componentsOf(t, env.store); len(got) != 0 {
		t.Errorf("log not emptied: %v", got)
	}
}

func TestUninstallPartialFailureRetryConverges(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache, components.Runtime)
	seedActions(t, env.store, "database", "cache", "runtime")
	env.drivers[components.Cache].uninstallQueue = []components.Result{
		{Error: "unit busy"},
		{Uninstalled: true},
	}

	first := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if first.Status != "ok" {
		t.Fatalf("partial failure must not flip status: %q", first.Status)
	}
	if first.Remaining != 1 {
		t.Fatalf("remaining = %d", first.Remaining)
	}
	if got := componentsOf(t, env.store); len(got) != 1 || got[0] != "cache" {
		t.Fatalf("only the failed action may stay: %v", got)
	}
	if !env.progress.has(StepRetry) {
		t.Errorf("expected a retry hint: %v", env.progress.steps)
	}

	second := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if second.Remaining != 0 {
		t.Fatalf("retry did not converge: remaining = %d", second.Remaining)
	}
	if got := componentsOf(t, env.store); len(got) != 0 {
		t.Errorf("log not emptied after retry: %v", got)
	}
}

func TestUninstallDryRunClearsPersistedLog(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache)
	seedActions(t, env.store, "database", "cache")

	res := env.orch.UninstallAll(context.Background(), UninstallRequest{DryRun: true})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if res.Remaining != 2 {
		t.Errorf("dry run reports the untouched in-memory count, got %d", res.Remaining)
	}
	for _, outcome := range res.Outcomes {
		if outcome.Attempted != "dry-run" {
			t.Errorf("unexpected attempt: %+v", outcome)
		}
	}
	for _, d := range env.drivers {
		if len(d.uninstallCalls) != 0 {
			t.Errorf("%s driver called during dry run", d.comp)
		}
	}
	if got := componentsOf(t, env.store); len(got) != 0 {
		t.Errorf("dry run clears the persisted log: %v", got)
	}
}

func TestUninstallFilter(t *testing.T) {
	env := newTestEnv(t, components.Database, components.Cache)
	seedActions(t, env.store, "database", "cache")

	res := env.orch.UninstallAll(context.Background(), UninstallRequest{
		Filter: []components.Component{components.Cache},
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Component != "cache" {
		t.Fatalf("filter not honored: %+v", res.Outcomes)
	}
	if len(env.drivers[components.Database].uninstallCalls) != 0 {
		t.Error("filtered-out component must not be touched")
	}
	if got := componentsOf(t, env.store); len(got) != 1 || got[0] != "database" {
		t.Errorf("unfiltered action must survive: %v", got)
	}
	if res.Remaining != 1 {
		t.Errorf("remaining = %d", res.Remaining)
	}
}

func TestUninstallNoActions(t *testing.T) {
	env := newTestEnv(t)
	res := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if res.Status != "no-actions" {
		t.Errorf("status = %q", res.Status)
	}
}

func TestUninstallPreserveDataThreadsThrough(t *testing.T) {
	env := newTestEnv(t, components.Database)
	seedActions(t, env.store, "database")

	env.orch.UninstallAll(context.Background(), UninstallRequest{PreserveData: true})
	calls := env.drivers[components.Database].uninstallCalls
	if len(calls) != 1 || !calls[0].PreserveData {
		t.Errorf("PreserveData not threaded through: %+v", calls)
	}
}

func TestUninstallUsesRecordedPath(t *testing.T) {
	env := newTestEnv(t, components.Runtime)
	if err := env.store.AppendAction("runtime", map[string]any{"path": "/srv/panel/venv"}, nil); err != nil {
		t.Fatal(err)
	}

	env.orch.UninstallAll(context.Background(), UninstallRequest{})
	calls := env.drivers[components.Runtime].uninstallCalls
	if len(calls) != 1 || calls[0].Target != "/srv/panel/venv" {
		t.Errorf("recorded path not used as target: %+v", calls)
	}
}

func TestUninstallAppActionStopsService(t *testing.T) {
	env := newTestEnv(t)
	seedActions(t, env.store, "app")

	res := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if res.Status != "ok" || res.Remaining != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Outcomes) != 1 || !res.Outcomes[0].Removed {
		t.Fatalf("app action not retired: %+v", res.Outcomes)
	}
	if res.Outcomes[0].Outcome["service"] != "forge-panel" {
		t.Errorf("unexpected outcome meta: %v", res.Outcomes[0].Outcome)
	}
}

func TestUninstallUnknownComponentStaysInLog(t *testing.T) {
	env := newTestEnv(t)
	seedActions(t, env.store, "mystery")

	res := env.orch.UninstallAll(context.Background(), UninstallRequest{})
	if res.Remaining != 1 {
		t.Errorf("unknown component must stay for a later binary: %+v", res)
	}
}
