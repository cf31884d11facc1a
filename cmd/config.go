package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load the configuration file, apply defaults and XNET_* environment
overrides, and print the result as YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(configFile, cmd.OutOrStdout())
	},
}

func runConfig(path string, w io.Writer) error {
	cfg, err := loadConfigFrom(path)
	if err != nil {
		return err
	}
	return cfg.Dump(w)
}
