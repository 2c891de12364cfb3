package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Check every module of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			workers, _ := cmd.Flags().GetInt("workers")
			preset, _ := cmd.Flags().GetString("preset")
			_, err := c.app.Check(cmd.Context(), projectDir(args), app.CheckOptions{
				Output:  output,
				Workers: workers,
				Preset:  preset,
			})
			return err
		},
	}
	addRunFlags(cmd)
	cmd.Flags().StringP("output", "o", "auto", "Output mode: auto, tui, linear or ci")
	return cmd
}

func (c *CLI) newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-check a project whenever its sources change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			preset, _ := cmd.Flags().GetString("preset")
			addr, _ := cmd.Flags().GetString("metrics-addr")
			return c.app.Watch(cmd.Context(), projectDir(args), app.WatchOptions{
				Workers:        workers,
				Preset:         preset,
				MetricsAddress: addr,
			})
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "w", 0, "Number of parallel checkers (default: configured or CPU count)")
	cmd.Flags().StringP("preset", "p", "", "Stage preset: standard, check-only or fast")
}
