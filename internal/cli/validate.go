package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and report whether it is valid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"configuration is valid: %d models, %d providers, %s aggregation\n",
			len(cfg.Models), len(cfg.Providers), cfg.Aggregation.Method)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
