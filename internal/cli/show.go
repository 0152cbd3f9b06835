package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"signal-relay/internal/app"
)

var (
	showLimit       int
	showDeadLetters bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent orders or dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:       showLimit,
			DeadLetters: showDeadLetters,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showDeadLetters, "dead-letters", false, "List dead-lettered queue items instead of orders")
}
