package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// newScreenshotCmd creates the "beastbot screenshot" subcommand.
func newScreenshotCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "screenshot <id>",
		Short: "Save a PNG of a running instance's screen",
		Long: "Captures the screen over adb. Without --output the image goes to\n" +
			"$BEASTBOT_HOME/screenshots/<id>-<timestamp>.png.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer a.Close()

			running, err := a.ctrl.IsRunning(ctx, id)
			if err != nil {
				return err
			}
			if !running {
				return fmt.Errorf("emulator %d is not running", id)
			}

			dev := newDevice(id, a.settings.Emulator)
			if on, err := dev.IsScreenOn(ctx); err != nil {
				a.logger.Warn("screen state", "emulator", id, "error", err)
			} else if !on {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: emulator %d screen is off\n", id)
			}
			png, err := dev.Screenshot(ctx)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(a.paths.Home, "screenshots",
					fmt.Sprintf("%d-%s.png", id, time.Now().Format("20060102-150405")))
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return fmt.Errorf("create screenshot dir: %w", err)
			}
			if err := os.WriteFile(output, png, 0o600); err != nil {
				return fmt.Errorf("write screenshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", output, len(png))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write")
	return cmd
}
