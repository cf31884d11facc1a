package cmd

import (
	"github.com/spf13/cobra"
)

// serveCmd runs the stack in the foreground
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stack in the foreground",
	Long: `Run the xnet stack in the foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and metrics, and write the PID file
  3. Open the configured driver, with the host filter and capture if enabled
  4. Announce the interface with a gratuitous ARP
  5. Open the HTTP and echo services
  6. Poll until SIGTERM or SIGINT, then shut down gracefully

Examples:
  xnet serve                        # Use /etc/xnet/xnet.yml
  xnet serve -c xnet.yml            # Use xnet.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runDaemon(cmd.Context(), newRunner(cfg), cmd.OutOrStdout())
	},
}
