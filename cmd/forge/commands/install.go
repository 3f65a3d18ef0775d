package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsforge/pkg/orchestrator"
)

func newInstallCommand() *cobra.Command {
	var (
		componentNames []string
		elevate        bool
		dryRun         bool
		runtimeTarget  string
		autoStartApp   bool
		createAdmin    bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install panel infrastructure components",
		Long: `Install the selected components in order, recording an action for each
success so they can be rolled back later.

After the component loop (and never on dry runs) forge configures the nginx
reverse proxy, writes the panel environment file, provisions the panel
database and ensures an administrative account exists.`,
		Example: `  # Install everything with elevation
  forge install --elevate

  # Preview what would run
  forge install --dry-run

  # Install only the database and cache
  forge install --components database,cache --elevate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := parseComponents(componentNames)
			if err != nil {
				return err
			}

			deps, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.cleanup()

			res := deps.orch.InstallAll(cmd.Context(), orchestrator.InstallRequest{
				Profile:            deps.profile,
				Components:         comps,
				Elevate:            elevate,
				DryRun:             dryRun,
				RuntimeTarget:      runtimeTarget,
				AutoStartApp:       autoStartApp,
				CreateDefaultAdmin: createAdmin,
			})

			if jsonOutput {
				printJSON(installReport(res))
			} else if res.AdminPassword != "" {
				// Shown exactly once; it is not recoverable afterwards.
				fmt.Printf("\nAdmin account: %s\nAdmin password: %s\n", res.Admin.Email, res.AdminPassword)
			}

			return exitForStatus(res.Status)
		},
	}

	cmd.Flags().StringSliceVar(&componentNames, "components", nil, "components to install (default: all)")
	cmd.Flags().BoolVar(&elevate, "elevate", false, "acquire elevated rights before installing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without mutating anything")
	cmd.Flags().StringVar(&runtimeTarget, "runtime-target", "", "override the runtime environment path")
	cmd.Flags().BoolVar(&autoStartApp, "auto-start-app", false, "register and start the panel service")
	cmd.Flags().BoolVar(&createAdmin, "create-admin", true, "ensure an administrative account exists")

	return cmd
}

// installJSON re-attaches the generated admin password for machine
// consumers. The result type excludes it from JSON so it never leaks into
// the history journal; the one-shot install output is the only place it
// may appear.
type installJSON struct {
	orchestrator.InstallResult
	AdminPassword string `json:"admin_password,omitempty"`
}

func installReport(res orchestrator.InstallResult) installJSON {
	return installJSON{InstallResult: res, AdminPassword: res.AdminPassword}
}
