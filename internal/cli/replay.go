package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"signal-relay/internal/app"
)

var (
	replayFile   string
	replayDryRun bool
	replayNotify bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded message envelopes through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return fmt.Errorf("--file must be provided")
		}
		if replayDryRun && replayNotify {
			return fmt.Errorf("--notify cannot be combined with --dry-run")
		}

		opts := app.ReplayOptions{
			Path:   replayFile,
			DryRun: replayDryRun,
			Notify: replayNotify,
		}

		return getApp().Replay(cmd.Context(), opts, cmd.ErrOrStderr())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "Path to a JSONL file of message envelopes")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Classify only, without writing to storage")
	replayCmd.Flags().BoolVar(&replayNotify, "notify", false, "Send notifications for replayed messages")
}
