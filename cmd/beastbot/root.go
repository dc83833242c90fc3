package main

import (
	"fmt"

	"beastbot/internal/version"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	logLevel string
}

// newRootCmd creates the root beastbot command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "beastbot",
		Short: "Beast Lord emulator automation scheduler",
		Long: "beastbot decides which emulator instance to process next, launches it,\n" +
			"queues the most valuable building or research upgrade, and shuts it down again.",
		Version:       fmt.Sprintf("beastbot %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newInitCmd(opts),
		newScanCmd(opts),
		newListCmd(opts),
		newEnableCmd(opts, true),
		newEnableCmd(opts, false),
		newNoteCmd(opts),
		newStartCmd(opts),
		newStopCmd(),
		newStatusCmd(),
		newQueueCmd(opts),
		newNextCmd(opts),
		newProcessCmd(opts),
		newResetCmd(opts),
		newSpeedupCmd(opts),
		newLevelCmd(opts),
		newSyncCmd(opts),
		newBonusCmd(opts),
		newSessionsCmd(opts),
		newLogsCmd(opts),
		newScreenshotCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd creates the "beastbot version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the beastbot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "beastbot %s\n", version.String())
		},
	}
}
