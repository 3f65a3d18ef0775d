package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opsforge/opsforge/pkg/components"
	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/history"
	"github.com/opsforge/opsforge/pkg/hostenv"
	"github.com/opsforge/opsforge/pkg/orchestrator"
	"github.com/opsforge/opsforge/pkg/services"
	"github.com/opsforge/opsforge/pkg/shell"
	"github.com/opsforge/opsforge/pkg/state"
	"github.com/opsforge/opsforge/pkg/telemetry"
	sshtransport "github.com/opsforge/opsforge/pkg/transports/ssh"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Remote target flags
	sshHost string
	sshUser string
	sshKey  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Forge - panel infrastructure installer",
		Long: `Forge installs and removes the infrastructure the panel depends on:
PostgreSQL, Redis, nginx and a Python runtime environment.

Every completed install step is recorded in an action log, so a later
uninstall can roll the host back in strict reverse order - including after
partial failures, which are simply retried on the next run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "install profile (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&sshHost, "ssh-host", "", "provision a remote host over SSH instead of localhost")
	rootCmd.PersistentFlags().StringVar(&sshUser, "ssh-user", "root", "SSH user for --ssh-host")
	rootCmd.PersistentFlags().StringVar(&sshKey, "ssh-key", "", "SSH private key for --ssh-host")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUninstallCommand())
	rootCmd.AddCommand(newServiceCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// runtimeDeps bundles everything the commands build per invocation.
type runtimeDeps struct {
	profile *config.Profile
	orch    *orchestrator.Orchestrator
	cleanup func()
}

// buildRuntime assembles the orchestrator against the local host or, when
// --ssh-host is set, a remote one.
func buildRuntime(ctx context.Context) (*runtimeDeps, error) {
	profile, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var (
		runner  shell.Runner
		fs      shell.FileSystem
		cleanup = func() {}
	)
	if sshHost != "" {
		cfg := sshtransport.DefaultConfig(sshHost, sshUser)
		if sshKey != "" {
			cfg.PrivateKeyPath = sshKey
		}
		client, err := sshtransport.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		runner = sshtransport.NewRunner(client)
		fs = sshtransport.NewFS(client)
		cleanup = func() { _ = client.Close() }
	} else {
		runner = shell.NewLocalRunner()
		fs = shell.NewLocalFS()
	}

	// With a remote target everything about the host, including OS family
	// and privilege, must come through the transport.
	var host hostenv.Info
	if sshHost != "" {
		host = hostenv.DetectRemote(runner)
	} else {
		host = hostenv.Detect(runner)
	}
	svc := services.NewManager(runner, host.OSFamily)
	registry := components.NewRegistry(components.Deps{
		Runner:         runner,
		FS:             fs,
		Services:       svc,
		PackageManager: host.PackageManager,
		GOOS:           host.OSFamily,
	})

	tcfg := telemetry.DefaultConfig()
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tcfg.Tracing.Enabled = profile.Telemetry.Tracing
	tcfg.Metrics.Enabled = profile.Telemetry.Metrics
	if profile.Telemetry.MetricsListen != "" {
		tcfg.Metrics.ListenAddress = profile.Telemetry.MetricsListen
	}
	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, err
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, err
	}
	{
		prev := cleanup
		cleanup = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = tracer.Shutdown(shutdownCtx)
			cancel()
			prev()
		}
	}

	var journal orchestrator.Journal
	if path := historyPath(profile); path != "" {
		store, err := history.NewStore(path)
		if err == nil && store.Init(ctx) == nil {
			journal = store
			prev := cleanup
			cleanup = func() { _ = store.Close(); prev() }
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		Registry: registry,
		Store:    state.NewStore(profile.Paths.State),
		Services: svc,
		Runner:   runner,
		FS:       fs,
		Host:     host,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Journal:  journal,
		Progress: printProgress,
	})

	return &runtimeDeps{profile: profile, orch: orch, cleanup: cleanup}, nil
}

func historyPath(profile *config.Profile) string {
	if profile.Paths.History != "" {
		return profile.Paths.History
	}
	if os.Geteuid() == 0 {
		return "/var/lib/opsforge/history.db"
	}
	return "opsforge_history.db"
}

// printProgress renders progress events for the terminal.
func printProgress(step orchestrator.Step, component string, meta map[string]any) {
	if jsonOutput {
		return // JSON mode prints the aggregate result only
	}
	switch step {
	case orchestrator.StepStart:
		fmt.Printf("==> %s\n", component)
	case orchestrator.StepInstalled, orchestrator.StepUninstalled:
		if errMsg, ok := meta["error"].(string); ok && errMsg != "" {
			fmt.Printf("    %s: FAILED: %s\n", component, errMsg)
		} else if _, ok := meta["dry_run"]; ok {
			fmt.Printf("    %s: dry-run\n", component)
		} else {
			fmt.Printf("    %s: %s\n", component, step)
		}
	case orchestrator.StepSkipped:
		fmt.Printf("    %s: already present\n", component)
	case orchestrator.StepService:
		if svc, ok := meta["service"].(string); ok {
			fmt.Printf("    service %s configured\n", svc)
		}
	case orchestrator.StepRetry:
		fmt.Printf("!! rollback incomplete, re-run uninstall to retry (%v remaining)\n", meta["remaining"])
	case orchestrator.StepDone:
		fmt.Printf("done: %v\n", meta["status"])
	}
}

// printJSON emits a result document on stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// exitForStatus maps an aggregate status to the scripted-front-end
// convention: zero only for ok, no-actions and dry-run.
func exitForStatus(status string) error {
	switch status {
	case "ok", "no-actions", "dry-run":
		return nil
	}
	return fmt.Errorf("finished with status %q", status)
}

func parseComponents(names []string) ([]components.Component, error) {
	var out []components.Component
	for _, n := range names {
		c, err := components.Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
