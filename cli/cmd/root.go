// Package cmd implements the fleetctl command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelsec/sysmonfleet/cli/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Sysmonfleet CLI",
	Long: `fleetctl is the command-line interface for sysmonfleet.

Launch Sysmon deployment jobs across the fleet, watch their progress,
run noise analysis over collected events, and manage agents from your
terminal.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("SYSMONFLEET_SERVER", "http://localhost:8090"), "sysmonfleet server URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("SYSMONFLEET_TOKEN"), "bearer token for the operator API")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds the API client from the persistent flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.New(server, token)
}
