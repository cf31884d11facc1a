package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xuanhao44/net-lab-2023/internal/daemon"
)

var stopTimeout time.Duration

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running xnet daemon",
	Long: `Stop the xnet daemon gracefully.

This command sends SIGTERM to the process recorded in the configured PID
file and waits for it to exit. The daemon closes its connections, logs its
ARP cache and connection table, and removes the PID file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runStop(cfg.Control.PIDFile, daemon.ProcessSignaler{}, stopTimeout, cmd.OutOrStdout())
	},
}

func init() {
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second, "time to wait for the daemon to exit")
}

func runStop(pidFile string, sig daemon.Signaler, timeout time.Duration, w io.Writer) error {
	if pidFile == "" {
		return fmt.Errorf("control.pid_file is not configured")
	}
	pid, err := daemon.StopDaemon(pidFile, sig, timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ xnet (pid %d) stopped\n", pid)
	return nil
}
