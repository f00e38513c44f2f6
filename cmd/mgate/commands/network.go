package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/workflow"
)

func newNetworkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Provision and tear down private networks",
	}
	cmd.AddCommand(newNetworkCreateCommand())
	cmd.AddCommand(newNetworkDestroyCommand())
	return cmd
}

// networkSummary is what network create prints on success.
type networkSummary struct {
	Network    string   `json:"network"`
	RouterApp  string   `json:"router_app"`
	DeviceID   string   `json:"device_id,omitempty"`
	DeviceAddr string   `json:"device_address,omitempty"`
	Domain     string   `json:"domain"`
	Routes     []string `json:"routes,omitempty"`
}

func newNetworkCreateCommand() *cobra.Command {
	var (
		routerImage     string
		noApproveRoutes bool
		waitTimeout     time.Duration
		pollInterval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <network>",
		Short: "Create a private network fronted by a mesh router",
		Long: `Create a private network and deploy a subnet router for it.

This command:
  - Creates the router app on the network and registers its tag as owned
  - Mints a preauthorized, tagged auth key and stages it as an app secret
  - Deploys the router image and waits for the device to join the mesh
  - Approves the router's advertised subnet routes
  - Points split DNS for <network>.internal at the router
  - Grants tailnet members access to the advertised routes

Rerunning after a partial failure resumes at the first unsatisfied step.`,
		Example: `  # Create a network with config defaults
  mgate network create prod

  # Custom router image, skip route approval
  mgate network create staging --router-image ghcr.io/acme/router:v2 --no-approve-routes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network := args[0]
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			wctx := rt.newWorkflowContext(network)
			if routerImage != "" {
				wctx.RouterImage = routerImage
			}
			if waitTimeout > 0 {
				wctx.DeviceWaitTimeout = waitTimeout
			}
			if pollInterval > 0 {
				wctx.DevicePollInterval = pollInterval
			}
			wctx.ApproveRoutes = !noApproveRoutes
			wctx.Observer = rt.tel.PhaseObserver("create_network", network)

			err = rt.tel.RunWorkflow(cmd.Context(), "create_network", network, func(ctx context.Context) error {
				return workflow.NewCreateNetwork(wctx).Run(ctx)
			})
			if err != nil {
				return err
			}

			summary := networkSummary{
				Network:   network,
				RouterApp: wctx.RouterApp,
				Domain:    wctx.Domain(),
				Routes:    wctx.Routes,
			}
			if wctx.Device != nil {
				summary.DeviceID = wctx.Device.ID
				if len(wctx.Device.Addresses) > 0 {
					summary.DeviceAddr = wctx.Device.Addresses[0]
				}
			}
			return printResult(cmd, summary, func() {
				fmt.Printf("network %s is up\n", network)
				fmt.Printf("  router app: %s\n", summary.RouterApp)
				if summary.DeviceAddr != "" {
					fmt.Printf("  router device: %s (%s)\n", summary.DeviceID, summary.DeviceAddr)
				}
				fmt.Printf("  dns domain: %s\n", summary.Domain)
				for _, route := range summary.Routes {
					fmt.Printf("  route: %s\n", route)
				}
			})
		},
	}

	cmd.Flags().StringVar(&routerImage, "router-image", "", "router container image (overrides config)")
	cmd.Flags().BoolVar(&noApproveRoutes, "no-approve-routes", false, "stop once the router device joins the mesh")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "how long to wait for the router device")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "device poll interval")

	return cmd
}

func newNetworkDestroyCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy <network>",
		Short: "Tear down a private network",
		Long: `Tear down a network: clear its split DNS, remove the router device from
the mesh, revoke the policy grants written at creation, and delete the
router app. Workload apps on the network are left alone; destroy them
first with mgate app destroy.`,
		Example: `  # Destroy with confirmation prompt
  mgate network destroy staging

  # Skip the prompt
  mgate network destroy staging --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network := args[0]
			if !force && !confirm(cmd, fmt.Sprintf("destroy network %q and its router", network)) {
				return engine.NewCanceledError("teardown declined")
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			wctx := rt.newWorkflowContext(network)
			wctx.Observer = rt.tel.PhaseObserver("destroy_network", network)

			err = rt.tel.RunWorkflow(cmd.Context(), "destroy_network", network, func(ctx context.Context) error {
				return workflow.NewDestroyNetwork(wctx).Run(ctx)
			})
			if err != nil {
				return err
			}

			log.Info().Str("network", network).Msg("network destroyed")
			return printResult(cmd, map[string]string{"network": network, "status": "destroyed"}, func() {
				fmt.Printf("network %s destroyed\n", network)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")

	return cmd
}

// printResult renders either JSON or the human form, per the --json flag.
func printResult(cmd *cobra.Command, v interface{}, human func()) error {
	if !jsonOutput {
		human()
		return nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
