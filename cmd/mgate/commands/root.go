package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	orgFlag     string
	tailnetFlag string
	metricsAddr string

	// buildVersion is stamped by Execute for telemetry.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mgate",
		Short: "meshgate - private network provisioning over a cloud app platform",
		Long: `meshgate provisions private networks on a cloud app platform and stitches
them into a mesh VPN, keeping every workload off the public internet.

It drives two providers:
  - the cloud platform CLI, for apps, machines, IPs, and certificates
  - the mesh control plane HTTP API, for devices, routes, DNS, and policy

Every command rehydrates its state from live infrastructure before acting,
so reruns after a partial failure resume where the last run stopped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "cloud platform organization (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tailnetFlag, "tailnet", "", "mesh tailnet name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	// Add subcommands
	rootCmd.AddCommand(newNetworkCommand())
	rootCmd.AddCommand(newAppCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAuthCommand())

	return rootCmd
}
