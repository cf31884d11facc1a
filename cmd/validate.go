package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xuanhao44/net-lab-2023/internal/config"
	"github.com/xuanhao44/net-lab-2023/internal/driver"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the stack.

This is useful for pre-checking configuration before deploying.

Examples:
  xnet validate -c xnet.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, cmd.OutOrStdout()); err != nil {
			exitWithError("INVALID", err)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if !knownDriver(cfg.Driver.Type) {
		return fmt.Errorf("unknown driver type %q (available: %v)", cfg.Driver.Type, driver.Types())
	}

	sc := cfg.StackConfig()
	fmt.Fprintf(w, "VALID: %s/%s mtu %d, driver %s, http %s, echo %s\n",
		sc.IP, sc.MAC, sc.MTU,
		cfg.Driver.Type,
		service(cfg.HTTP.Enabled, cfg.HTTP.Port),
		service(cfg.Echo.Enabled, cfg.Echo.Port),
	)
	return nil
}

func knownDriver(name string) bool {
	for _, t := range driver.Types() {
		if t == name {
			return true
		}
	}
	return false
}

func service(enabled bool, port int) string {
	if !enabled {
		return "off"
	}
	return fmt.Sprintf("port %d", port)
}
