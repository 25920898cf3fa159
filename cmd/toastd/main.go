package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toastd/toastd/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "toastd",
	Short: "Local HTTP server for desktop toast notifications",
	Long: `toastd turns POST /notify requests into native desktop notifications and
runs the attached action when the notification is clicked.

Callback commands run with the privileges of the user running toastd and are
not sandboxed. Keep the server bound to loopback or protect it with
credentials.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toastd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is toastd.yaml in the user config dir)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when no config file can be read, so
// client commands work without one.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config, using defaults: %v\n", err)
		cfg = config.Default()
	}
	return cfg
}
