package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/pkg/audit"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/workflow"
)

func newAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Deploy and destroy workload apps on a network",
	}
	cmd.AddCommand(newAppDeployCommand())
	cmd.AddCommand(newAppDestroyCommand())
	return cmd
}

// deploySummary is what app deploy prints on success.
type deploySummary struct {
	App     string        `json:"app"`
	Network string        `json:"network"`
	Domain  string        `json:"domain"`
	Audit   *audit.Result `json:"audit,omitempty"`
}

func newAppDeployCommand() *cobra.Command {
	var (
		network    string
		image      string
		buildDir   string
		configFile string
		env        map[string]string
	)

	cmd := &cobra.Command{
		Use:   "deploy <name>",
		Short: "Deploy a workload app onto a private network",
		Long: `Deploy a workload onto a network's private address space.

The workload's physical app name is <name> suffixed with the network's
router ID. After the deploy, an audit sweeps the app for public exposure:
public IPs are released, platform TLS certificates removed, and exactly
one private flycast allocation is ensured. If the sweep had to release a
public IP the command fails, with the exposure already repaired.`,
		Example: `  # Deploy an image
  mgate app deploy api --network prod --image ghcr.io/acme/api:v3

  # Deploy from a local build directory with extra env
  mgate app deploy worker --network prod --build-dir ./worker --env QUEUE=jobs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			sources := 0
			for _, s := range []string{image, buildDir, configFile} {
				if s != "" {
					sources++
				}
			}
			if sources != 1 {
				return engine.NewRejectedError("exactly one deploy source required", nil).
					WithHint("pass one of --image, --build-dir, or --config-path")
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			wctx := rt.newWorkflowContext(network)
			wctx.AppName = name
			wctx.AppImage = image
			wctx.AppBuildDir = buildDir
			wctx.AppConfigPath = configFile
			wctx.AppEnv = env
			wctx.Observer = rt.tel.PhaseObserver("deploy_app", network)

			runErr := rt.tel.RunWorkflow(cmd.Context(), "deploy_app", network, func(ctx context.Context) error {
				return workflow.NewDeployApp(wctx).Run(ctx)
			})

			if wctx.Audit != nil {
				rt.tel.Metrics.RecordAudit(wctx.Audit.PublicIPsReleased, wctx.Audit.CertificatesRemoved, len(wctx.Audit.Warnings))
				reportAudit(wctx.WorkloadApp, wctx.Audit, rt)
			}
			if runErr != nil {
				return runErr
			}

			summary := deploySummary{
				App:     wctx.WorkloadApp,
				Network: network,
				Domain:  wctx.WorkloadApp + "." + wctx.Domain(),
				Audit:   wctx.Audit,
			}
			return printResult(cmd, summary, func() {
				fmt.Printf("app %s deployed on network %s\n", summary.App, network)
				fmt.Printf("  private address: %s\n", summary.Domain)
				if summary.Audit != nil {
					for _, alloc := range summary.Audit.FlycastAllocations {
						fmt.Printf("  flycast: %s (%s)\n", alloc.Address, alloc.Network)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "target network")
	cmd.Flags().StringVar(&image, "image", "", "container image to deploy")
	cmd.Flags().StringVar(&buildDir, "build-dir", "", "local directory to build and deploy")
	cmd.Flags().StringVar(&configFile, "config-path", "", "platform config file to deploy from")
	cmd.Flags().StringToStringVar(&env, "env", nil, "extra runtime environment (key=value)")
	cmd.MarkFlagRequired("network")

	return cmd
}

// reportAudit logs what the exposure sweep repaired and emits repair events.
func reportAudit(app string, result *audit.Result, rt *runtime) {
	if result.PublicIPsReleased > 0 {
		log.Warn().Int("count", result.PublicIPsReleased).Str("app", app).Msg("released public IP allocations")
		rt.tel.Events.PublishAuditRepair(app, fmt.Sprintf("released %d public IP allocations", result.PublicIPsReleased))
	}
	if result.CertificatesRemoved > 0 {
		log.Warn().Int("count", result.CertificatesRemoved).Str("app", app).Msg("removed platform TLS certificates")
		rt.tel.Events.PublishAuditRepair(app, fmt.Sprintf("removed %d TLS certificates", result.CertificatesRemoved))
	}
	for _, warning := range result.Warnings {
		log.Warn().Str("app", app).Msg(warning)
	}
}

func newAppDestroyCommand() *cobra.Command {
	var (
		network string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "destroy <name>",
		Short: "Destroy a workload app",
		Long: `Delete a workload app from a network. The name is the logical name used
at deploy time; the router-ID suffix is resolved from live state, so this
works even after the network's router is gone.`,
		Example: `  mgate app destroy api --network prod --force`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !force && !confirm(cmd, fmt.Sprintf("destroy app %q on network %q", name, network)) {
				return engine.NewCanceledError("teardown declined")
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			wctx := rt.newWorkflowContext(network)
			wctx.AppName = name
			wctx.Observer = rt.tel.PhaseObserver("destroy_app", network)

			err = rt.tel.RunWorkflow(cmd.Context(), "destroy_app", network, func(ctx context.Context) error {
				return workflow.NewDestroyApp(wctx).Run(ctx)
			})
			if err != nil {
				return err
			}

			return printResult(cmd, map[string]string{"app": name, "network": network, "status": "destroyed"}, func() {
				fmt.Printf("app %s destroyed\n", name)
			})
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "target network")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("network")

	return cmd
}
