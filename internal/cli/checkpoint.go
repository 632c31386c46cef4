package cli

import (
	"github.com/spf13/cobra"
)

func NewCheckpointCmd(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset sync progress",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint as JSON",
		RunE: func(c *cobra.Command, args []string) error {
			return runCheckpointShow(c, global)
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored checkpoint; the next sync starts cold",
		RunE: func(c *cobra.Command, args []string) error {
			return runCheckpointReset(c, global)
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}
