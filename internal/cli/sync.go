package cli

import (
	"time"

	"github.com/spf13/cobra"
)

type SyncOptions struct {
	*GlobalOptions
	BatchSize int
	DryRun    bool
	Interval  time.Duration
	Progress  bool
}

func NewSyncCmd(global *GlobalOptions) *cobra.Command {
	opts := &SyncOptions{GlobalOptions: global}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Index film works changed since the last checkpoint",
		Long: `Run one incremental sync. With --interval the sync repeats until interrupted,
sleeping between runs.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runSync(c, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "Rows per batch (default from config, 100)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Extract and transform only; write nothing")
	cmd.Flags().DurationVarP(&opts.Interval, "interval", "i", 0, "Repeat the sync at this interval")
	cmd.Flags().BoolVar(&opts.Progress, "progress", false, "Show a spinner with indexed document count on stderr")

	return cmd
}
