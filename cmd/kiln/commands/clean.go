package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [dir]",
		Short: "Clear persisted results and emitted interfaces",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := cmd.Flags().GetBool("store")
			out, _ := cmd.Flags().GetBool("out")
			all, _ := cmd.Flags().GetBool("all")

			opts := app.CleanOptions{}
			switch {
			case all:
				opts.Store = true
				opts.Out = true
			case store || out:
				opts.Store = store
				opts.Out = out
			default:
				// Default behavior: clear the result store
				opts.Store = true
			}

			return c.app.Clean(cmd.Context(), projectDir(args), opts)
		},
	}

	cmd.Flags().BoolP("store", "s", false, "Clear the persistent result store")
	cmd.Flags().Bool("out", false, "Remove emitted module interfaces")
	cmd.Flags().BoolP("all", "a", false, "Clear the store and remove emitted interfaces")

	return cmd
}
