// Package commands defines the relay's command-line interface.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Signed-webhook event relay",
	Long: `relay accepts signed webhook notifications from an upstream producer,
admits them under a rate budget, and fans each accepted event out to
connected WebSocket consumers.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}
