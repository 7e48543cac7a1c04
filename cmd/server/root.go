package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Scrobble orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newCreditsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
