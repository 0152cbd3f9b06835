package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay service (HTTP ingest, queue consumer, stream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the resolved channel routing table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Routes(cmd.OutOrStdout())
	},
}
