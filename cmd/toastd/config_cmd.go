package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration serve would use after merging defaults, the config
file and TOASTD_* environment variables. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		cfg.Validate()
		if cfg.Password != "" {
			cfg.Password = redacted
		}
		if cfg.PasswordHash != "" {
			cfg.PasswordHash = redacted
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
