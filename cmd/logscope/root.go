package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)
	tuiCmd := newTUICommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "logscope",
		Short:         "Browse, count and follow event logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		// Without a subcommand the terminal UI runs.
		RunE: tuiCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(tuiCmd.Flags())

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.json", "Configuration file path (.json or .toml)")

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(newChannelsCommand(ctx))
	rootCmd.AddCommand(newPageCommand(ctx))
	rootCmd.AddCommand(newCountCommand(ctx))
	rootCmd.AddCommand(newTailCommand(ctx))
	rootCmd.AddCommand(newEmitCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newHashPasswordCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
