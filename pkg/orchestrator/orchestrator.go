// Package orchestrator sequences component installs and uninstalls, owns the
// action log, and performs the admin-account bootstrap. It is the only
// writer of the state store; drivers report results and never touch it.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsforge/opsforge/pkg/components"
	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/hostenv"
	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/shell"
	"github.com/opsforge/opsforge/pkg/state"
	"github.com/opsforge/opsforge/pkg/telemetry"
)

// Journal records run history. Optional; a nil journal disables history.
type Journal interface {
	BeginRun(ctx context.Context, id, kind, domain string) error
	RecordEvent(ctx context.Context, runID, step, component string, meta map[string]any) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
}

// Options wires an Orchestrator. Registry, Store, Services, Runner and FS
// are required; the rest default to no-ops.
type Options struct {
	Registry components.Registry
	Store    *state.Store
	Services *services.Manager
	Runner   shell.Runner
	FS       shell.FileSystem
	Host     hostenv.Info

	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Journal  Journal
	Progress ProgressFunc

	// Admins overrides the panel user storage; nil connects via pgx using
	// the profile's database URL at bootstrap time.
	Admins AdminStore

	// Elevator overrides privilege acquisition, mostly for tests.
	Elevator func(ctx context.Context) error

	// EnvFileDir overrides where the panel env file is written.
	EnvFileDir string
}

// Orchestrator drives installs, rollback and bootstrap.
type Orchestrator struct {
	reg      components.Registry
	store    *state.Store
	svc      *services.Manager
	runner   shell.Runner
	fs       shell.FileSystem
	host     hostenv.Info
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	journal  Journal
	progress ProgressFunc
	admins   AdminStore
	elevator func(ctx context.Context) error
	envDir   string
}

// New builds an Orchestrator from options.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultConfig().Logging)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	elevator := opts.Elevator
	if elevator == nil {
		runner := opts.Runner
		elevator = func(ctx context.Context) error {
			return hostenv.Elevate(ctx, runner)
		}
	}
	envDir := opts.EnvFileDir
	if envDir == "" {
		envDir = "/etc/forge"
	}
	return &Orchestrator{
		reg:      opts.Registry,
		store:    opts.Store,
		svc:      opts.Services,
		runner:   opts.Runner,
		fs:       opts.FS,
		host:     opts.Host,
		log:      log,
		metrics:  metrics,
		tracer:   opts.Tracer,
		journal:  opts.Journal,
		progress: opts.Progress,
		admins:   opts.Admins,
		elevator: elevator,
		envDir:   envDir,
	}
}

// ComponentOutcome pairs a component with its driver result.
type ComponentOutcome struct {
	Component components.Component `json:"component"`
	Result    components.Result    `json:"result"`
}

// InstallRequest carries one install run's parameters.
type InstallRequest struct {
	Profile    *config.Profile
	Components []components.Component

	Elevate       bool
	DryRun        bool
	RuntimeTarget string

	AutoStartApp       bool
	CreateDefaultAdmin bool
}

// InstallResult is the aggregate outcome of InstallAll.
type InstallResult struct {
	Status     string             `json:"status"`
	RunID      string             `json:"run_id"`
	Components []ComponentOutcome `json:"components"`
	Errors     []string           `json:"errors,omitempty"`

	// MissingPrereqs is populated when a dry run short-circuits on
	// missing host tooling.
	MissingPrereqs map[string]string `json:"missing_prereqs,omitempty"`

	Admin *BootstrapResult `json:"admin,omitempty"`

	// AdminPassword is the generated admin password, surfaced exactly once.
	AdminPassword string `json:"-"`
}

// InstallAll installs the requested components in order, records actions for
// each success, then runs the post-install steps: proxy config, panel env
// file, database provisioning, admin bootstrap and optional app auto-start.
// Failures are best-effort per component and never abort the loop.
func (o *Orchestrator) InstallAll(ctx context.Context, req InstallRequest) InstallResult {
	runID := uuid.NewString()
	started := time.Now()
	profile := req.Profile
	if profile == nil {
		profile, _ = config.Default()
	}

	log := o.log.WithRunID(runID)
	o.metrics.RecordRunStarted("install")
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartRunSpan(ctx, runID, "install")
		defer span.End()
	}
	o.journalBegin(ctx, runID, "install", profile.Domain)

	out := InstallResult{Status: "ok", RunID: runID}
	finish := func() InstallResult {
		if len(out.Errors) > 0 && out.Status == "ok" {
			out.Status = "error"
		}
		o.emit(StepDone, "", map[string]any{"status": out.Status})
		o.metrics.RecordRunCompleted("install", out.Status, time.Since(started))
		o.journalFinish(ctx, runID, out.Status, firstError(out.Errors))
		return out
	}

	if req.Elevate && !req.DryRun && !o.host.Privileged {
		if err := o.elevator(ctx); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("elevation failed: %v", err))
			log.WithError(err).Error("elevation failed")
			return finish()
		}
		o.host.Privileged = true
	}

	missing := hostenv.CheckPrereqs(o.runner)
	if req.DryRun && len(missing) > 0 {
		out.Status = "dry-run"
		out.MissingPrereqs = missing
		log.Warnf("dry run: %d missing prerequisites", len(missing))
		o.journalFinish(ctx, runID, out.Status, "")
		o.emit(StepDone, "", map[string]any{"status": out.Status, "missing": missing})
		return out
	}

	comps := req.Components
	if len(comps) == 0 {
		comps = components.Installable
	}

	for _, comp := range comps {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, "canceled: "+ctx.Err().Error())
			break
		}
		out.Components = append(out.Components, o.installOne(ctx, runID, comp, req, profile, &out))
	}

	if !req.DryRun {
		o.postInstall(ctx, runID, comps, req, profile, &out)
	}

	return finish()
}

// installOne runs a single component install and records its action.
func (o *Orchestrator) installOne(ctx context.Context, runID string, comp components.Component, req InstallRequest, profile *config.Profile, out *InstallResult) ComponentOutcome {
	log := o.log.WithRunID(runID).WithComponent(string(comp))
	o.emit(StepStart, string(comp), nil)
	o.journalEvent(ctx, runID, string(StepStart), string(comp), nil)
	started := time.Now()

	driver, ok := o.reg[comp]
	if !ok {
		res := components.Result{Error: fmt.Sprintf("no driver for component %q", comp)}
		out.Errors = append(out.Errors, res.Error)
		o.emit(StepError, string(comp), res.Meta())
		return ComponentOutcome{Component: comp, Result: res}
	}

	target := ""
	if comp == components.Runtime {
		target = req.RuntimeTarget
		if target == "" {
			target = profile.Paths.Venv
		}
	}

	res := driver.Install(ctx, components.InstallOptions{
		DryRun:  req.DryRun,
		Elevate: req.Elevate || o.host.Privileged,
		Target:  target,
	})

	meta := res.Meta()
	o.emit(StepInstalled, string(comp), meta)
	o.journalEvent(ctx, runID, string(StepInstalled), string(comp), meta)

	status := "ok"
	switch {
	case res.Error != "":
		status = "error"
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", comp, res.Error))
		o.metrics.RecordError(string(comp))
		o.emit(StepError, string(comp), meta)
		log.Error(res.Error)
	case res.Skipped:
		o.emit(StepSkipped, string(comp), meta)
		log.Info("already installed")
	default:
		log.Info("installed")
	}
	o.metrics.RecordComponentOp(string(comp), "install", status, time.Since(started))

	if res.Service != "" {
		o.emit(StepService, string(comp), map[string]any{"service": res.Service, "started": true})
	} else if res.ServiceError != "" {
		o.emit(StepService, string(comp), map[string]any{"error": res.ServiceError})
	}

	// Skipped installs never produce an action: there is nothing to undo.
	if res.Error == "" && res.Installed && !res.Skipped && !req.DryRun {
		if err := o.store.AppendAction(string(comp), meta, &o.host); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("record action for %s: %v", comp, err))
			log.WithError(err).Error("failed to record action")
		}
	}

	return ComponentOutcome{Component: comp, Result: res}
}

// postInstall runs the steps after the component loop: reverse proxy config,
// panel env file, database provisioning + verification, admin bootstrap and
// the optional app service.
func (o *Orchestrator) postInstall(ctx context.Context, runID string, comps []components.Component, req InstallRequest, profile *config.Profile, out *InstallResult) {
	log := o.log.WithRunID(runID)

	// Only configure the vhost when the proxy itself ended up usable:
	// freshly installed or already present. A failed install has no nginx
	// to write config for.
	if proxyUsable(out.Components) {
		o.configureProxy(ctx, profile, req, out)
	}

	dbReady := true
	if hasComponent(comps, components.Database) {
		dbReady = o.provisionDatabase(ctx, profile, req, out)
	}

	if err := o.writePanelEnv(profile); err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("write panel env: %v", err))
		log.WithError(err).Error("failed to write panel env file")
	}

	if req.CreateDefaultAdmin {
		if !dbReady {
			out.Errors = append(out.Errors, "bootstrap skipped: database not reachable")
		} else {
			o.bootstrap(ctx, profile, out)
		}
	}

	if req.AutoStartApp {
		o.autoStartApp(ctx, profile, out)
	}
}

func (o *Orchestrator) configureProxy(ctx context.Context, profile *config.Profile, req InstallRequest, out *InstallResult) {
	driver, ok := o.reg[components.Proxy].(*components.NginxDriver)
	if !ok {
		return
	}
	res := driver.ConfigureReverseProxy(ctx, components.ProxySite{
		Domain:       profile.Domain,
		UpstreamPort: profile.App.Port,
		Elevate:      req.Elevate || o.host.Privileged,
	})
	o.emit(StepService, string(components.Proxy), res.Meta())
	if res.Error != "" {
		out.Errors = append(out.Errors, "proxy config: "+res.Error)
		o.metrics.RecordError(string(components.Proxy))
	}
}

// provisionDatabase ensures the app role and database exist, then verifies
// connectivity. A verification failure is a hard error: bootstrap cannot
// proceed against an unreachable database.
func (o *Orchestrator) provisionDatabase(ctx context.Context, profile *config.Profile, req InstallRequest, out *InstallResult) bool {
	driver, ok := o.reg[components.Database].(*components.PostgresDriver)
	if !ok {
		return true
	}
	db := profile.Database

	setup := driver.SetupDatabase(ctx, db.Name, db.User, db.Password)
	if setup.Error != "" {
		out.Errors = append(out.Errors, "database setup: "+setup.Error)
		return false
	}

	verify := driver.VerifyConnection(ctx, db.Name, db.User, db.Password, db.Host, fmt.Sprintf("%d", db.Port))
	if verify.Error != "" {
		out.Errors = append(out.Errors, fmt.Sprintf("database verification failed: %s (check that PostgreSQL is running and credentials match)", verify.Error))
		return false
	}
	return true
}

func (o *Orchestrator) bootstrap(ctx context.Context, profile *config.Profile, out *InstallResult) {
	store := o.admins
	if store == nil {
		opened, err := OpenAdminStore(ctx, profile.Database.URL())
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("bootstrap: %v", err))
			return
		}
		defer func() { _ = opened.Close(ctx) }()
		store = opened
	}

	res, err := EnsureAdmin(ctx, store, BootstrapRequest{
		Email:    profile.Admin.Email,
		Name:     profile.Admin.Name,
		Password: profile.Admin.Password,
	})
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("bootstrap: %v", err))
		return
	}
	out.Admin = &res
	out.AdminPassword = res.GeneratedPassword
}

// autoStartApp ensures the panel's service unit exists and starts it, then
// records an app action so rollback can stop it again.
func (o *Orchestrator) autoStartApp(ctx context.Context, profile *config.Profile, out *InstallResult) {
	name := services.NameFor(string(components.App), o.host.OSFamily)
	exec := profile.App.ExecStart
	if exec == "" {
		exec = filepath.Join(profile.App.WorkingDir, "venv/bin/python") + " -m forge_panel"
	}

	created, err := o.svc.EnsureAppUnit(ctx, o.fs, services.AppUnit{
		Name:        name,
		Description: "Forge panel",
		ExecStart:   exec,
		WorkingDir:  profile.App.WorkingDir,
		EnvFile:     o.envFilePath(profile),
	})
	if err != nil {
		o.emit(StepService, string(components.App), map[string]any{"error": err.Error()})
		out.Errors = append(out.Errors, fmt.Sprintf("app unit: %v", err))
		return
	}

	en := o.svc.Enable(ctx, name)
	st := o.svc.Start(ctx, name)
	meta := map[string]any{"service": name, "unit_created": created, "started": st.OK && en.OK}
	o.emit(StepService, string(components.App), meta)

	if st.OK {
		if err := o.store.AppendAction(string(components.App), meta, &o.host); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("record app action: %v", err))
		}
	} else if st.Error != "" {
		// Reported but not fatal.
		o.log.Warnf("app service start failed: %s", st.Error)
	}
}

func (o *Orchestrator) envFilePath(profile *config.Profile) string {
	if profile.Paths.EnvFile != "" {
		return profile.Paths.EnvFile
	}
	return filepath.Join(o.envDir, "panel.env")
}

// writePanelEnv renders the panel's runtime environment file (0600).
func (o *Orchestrator) writePanelEnv(profile *config.Profile) error {
	secret := profile.App.SecretKey
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return err
		}
	}
	domain := profile.Domain
	if domain == "" {
		domain = "localhost"
	}

	content := fmt.Sprintf(
		"DATABASE_URL=%s\nREDIS_URL=redis://127.0.0.1:6379/0\nSECRET_KEY=%s\nPUBLIC_URL=http://%s\nPORT=%d\n",
		profile.Database.URL(), secret, domain, profile.App.Port,
	)

	path := o.envFilePath(profile)
	if err := o.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return o.fs.WriteFile(path, []byte(content), 0o600)
}

// StartComponentService starts the OS service backing a component.
func (o *Orchestrator) StartComponentService(ctx context.Context, comp components.Component) bool {
	name := services.NameFor(string(comp), o.host.OSFamily)
	if name == "" {
		return false
	}
	return o.svc.Start(ctx, name).OK
}

// StopComponentService stops the OS service backing a component.
func (o *Orchestrator) StopComponentService(ctx context.Context, comp components.Component) bool {
	name := services.NameFor(string(comp), o.host.OSFamily)
	if name == "" {
		return false
	}
	return o.svc.Stop(ctx, name).OK
}

// ComponentServiceStatus queries the OS service backing a component.
func (o *Orchestrator) ComponentServiceStatus(ctx context.Context, comp components.Component) services.Status {
	name := services.NameFor(string(comp), o.host.OSFamily)
	if name == "" {
		return services.Status{Error: fmt.Sprintf("no service mapped for component %q", comp)}
	}
	return o.svc.StatusOf(ctx, name)
}

func (o *Orchestrator) journalBegin(ctx context.Context, id, kind, domain string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.BeginRun(ctx, id, kind, domain); err != nil {
		o.log.WithError(err).Warn("history journal unavailable")
	}
}

func (o *Orchestrator) journalEvent(ctx context.Context, runID, step, component string, meta map[string]any) {
	if o.journal == nil {
		return
	}
	_ = o.journal.RecordEvent(ctx, runID, step, component, meta)
}

func (o *Orchestrator) journalFinish(ctx context.Context, id, status, errMsg string) {
	if o.journal == nil {
		return
	}
	_ = o.journal.FinishRun(ctx, id, status, errMsg)
}

func proxyUsable(outcomes []ComponentOutcome) bool {
	for _, oc := range outcomes {
		if oc.Component == components.Proxy {
			return oc.Result.Error == ""
		}
	}
	return false
}

func hasComponent(list []components.Component, c components.Component) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func firstError(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}
