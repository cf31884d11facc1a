package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xuanhao44/net-lab-2023/internal/config"
	"github.com/xuanhao44/net-lab-2023/internal/driver"
)

var (
	replayIn      string
	replayOut     string
	replayCapture string
)

// replayCmd feeds a capture file through the stack
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a capture file through the stack",
	Long: `Feed every frame of a pcap or pcapng file through the stack and record
the frames it sends to another pcap file. The command exits when the input
is exhausted.

Examples:
  xnet replay --in ping.pcap --out reply.pcap
  xnet replay -c xnet.yml --in http.pcapng --out http-reply.pcap --capture both.pcap`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyReplay(cfg, replayIn, replayOut, replayCapture)
		return runDaemon(cmd.Context(), newRunner(cfg), cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayIn, "in", "", "input capture file (required)")
	replayCmd.Flags().StringVar(&replayOut, "out", "", "output capture file for sent frames")
	replayCmd.Flags().StringVar(&replayCapture, "capture", "", "also record both directions to this file")
	_ = replayCmd.MarkFlagRequired("in")
}

// applyReplay points cfg at the pcap driver. Replays never own the PID file.
func applyReplay(cfg *config.Config, in, out, capture string) {
	cfg.Driver = driver.Config{
		Type: "pcap",
		Options: map[string]interface{}{
			"in":  in,
			"out": out,
		},
	}
	cfg.Control.PIDFile = ""
	if capture != "" {
		cfg.Capture.Enabled = true
		cfg.Capture.Path = capture
	}
}
