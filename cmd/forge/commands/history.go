package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/history"
)

func newHistoryCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past install and uninstall runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(runs)
				return nil
			}
			if len(runs) == 0 {
				fmt.Println("no recorded runs")
				return nil
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s  %-7s  %s", run.StartedAt.Format("2006-01-02 15:04:05"), run.Kind, run.Status, run.ID)
				if run.Error != nil {
					line += "  " + *run.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	cmd.AddCommand(newHistoryEventsCommand())
	return cmd
}

func newHistoryEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the progress events of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := store.ListEvents(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"run": run, "events": events})
				return nil
			}

			fmt.Printf("%s %s (%s)\n", run.Kind, run.ID, run.Status)
			for _, ev := range events {
				if ev.Component != "" {
					fmt.Printf("  %s  %-12s %s\n", ev.CreatedAt.Format("15:04:05"), ev.Step, ev.Component)
				} else {
					fmt.Printf("  %s  %s\n", ev.CreatedAt.Format("15:04:05"), ev.Step)
				}
			}
			return nil
		},
	}
}

// openHistory opens the journal read-side without building the full
// orchestrator, so history works even when the profile is minimal.
func openHistory(ctx context.Context) (*history.Store, error) {
	profile, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(historyPath(profile))
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
