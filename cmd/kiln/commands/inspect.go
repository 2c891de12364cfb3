package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [dir]",
		Short: "Print the module dependency layers, leaves first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, report, err := c.app.Graph(cmd.Context(), projectDir(args))
			if err != nil {
				return err
			}
			app.WriteLayers(cmd.OutOrStdout(), layers)
			if !report.OK() {
				app.WriteReport(cmd.ErrOrStderr(), report)
			}
			return nil
		},
	}
}

func (c *CLI) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [dir]",
		Short: "Check a project silently and print cache and engine counters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.app.Stats(cmd.Context(), projectDir(args))
			if err != nil {
				return err
			}
			app.WriteStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}
