package commands

import (
	"github.com/spf13/cobra"

	"github.com/opsforge/opsforge/pkg/orchestrator"
)

func newUninstallCommand() *cobra.Command {
	var (
		componentNames []string
		preserveData   bool
		dryRun         bool
		elevate        bool
	)

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Roll back recorded install actions",
		Long: `Roll back the action log in strict reverse install order.

Actions whose uninstall fails stay in the log; running uninstall again
retries exactly those. With --preserve-data services are stopped and
disabled but packages and data stay in place.`,
		Example: `  # Undo everything the log records
  forge uninstall --elevate

  # Stop services but keep packages and data
  forge uninstall --preserve-data --elevate

  # Roll back only the cache
  forge uninstall --components cache --elevate`,
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

			res := deps.orch.UninstallAll(cmd.Context(), orchestrator.UninstallRequest{
				PreserveData: preserveData,
				DryRun:       dryRun,
				Elevate:      elevate,
				Filter:       comps,
			})

			if jsonOutput {
				printJSON(res)
			}
			return exitForStatus(res.Status)
		},
	}

	cmd.Flags().StringSliceVar(&componentNames, "components", nil, "limit rollback to these components")
	cmd.Flags().BoolVar(&preserveData, "preserve-data", false, "stop services but keep packages and data")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without mutating anything")
	cmd.Flags().BoolVar(&elevate, "elevate", false, "acquire elevated rights before uninstalling")

	return cmd
}
