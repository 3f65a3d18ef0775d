package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsforge/opsforge/pkg/components"
)

func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Control the OS services behind components",
	}

	cmd.AddCommand(newServiceActionCommand("start", "Start a component's service"))
	cmd.AddCommand(newServiceActionCommand("stop", "Stop a component's service"))
	cmd.AddCommand(newServiceStatusCommand())

	return cmd
}

func newServiceActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <component>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := components.Parse(args[0])
			if err != nil {
				return err
			}

			deps, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.cleanup()

			var ok bool
			if action == "start" {
				ok = deps.orch.StartComponentService(cmd.Context(), comp)
			} else {
				ok = deps.orch.StopComponentService(cmd.Context(), comp)
			}
			if !ok {
				return fmt.Errorf("failed to %s service for %s", action, comp)
			}
			past := "started"
			if action == "stop" {
				past = "stopped"
			}
			fmt.Printf("%s: %s\n", comp, past)
			return nil
		},
	}
}

func newServiceStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <component>",
		Short: "Show a component's service status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := components.Parse(args[0])
			if err != nil {
				return err
			}

			deps, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.cleanup()

			status := deps.orch.ComponentServiceStatus(cmd.Context(), comp)
			if jsonOutput {
				printJSON(status)
				return nil
			}
			if status.Error != "" {
				fmt.Printf("%s: %s\n", comp, status.Error)
				return nil
			}
			fmt.Printf("%s (%s): state=%s enabled=%v\n", comp, status.Service, status.State, status.Enabled)
			return nil
		},
	}
}
