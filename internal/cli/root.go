// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/spf13/cobra"
)

// GlobalOptions are flags shared by every sub-command.
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
	LogFile    string
}

func NewRootCmd() *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "moviesync",
		Short: "moviesync - keep the movies search index in step with Postgres",
		Long: `moviesync polls the movies database for changed film works, persons and genres,
reshapes them into search documents and bulk-loads them into Elasticsearch.
Progress is checkpointed so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to config file (default: config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "Also write logs to this file")

	rootCmd.AddCommand(NewSyncCmd(opts), NewCheckpointCmd(opts))

	return rootCmd
}
