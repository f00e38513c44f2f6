package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/pkg/discovery"
)

// routerStatus is the JSON shape of one network's status.
type routerStatus struct {
	Network   string           `json:"network"`
	RouterApp string           `json:"router_app"`
	RouterID  string           `json:"router_id"`
	Started   bool             `json:"started"`
	Device    *deviceStatus    `json:"device,omitempty"`
	Workloads []workloadStatus `json:"workloads,omitempty"`
}

type deviceStatus struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	Online  bool   `json:"online"`
}

type workloadStatus struct {
	App      string   `json:"app"`
	Name     string   `json:"name"`
	Machines int      `json:"machines"`
	Flycast  []string `json:"flycast,omitempty"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [network]",
		Short: "Show networks, routers, and workloads",
		Long: `Show the composed live state of every network in the organization, or of
one network when named. State is read fresh from both providers; facets a
provider cannot answer for are shown as unknown rather than failing the
whole command.`,
		Example: `  # All networks
  mgate status

  # One network, as JSON
  mgate status prod --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			var views []discovery.RouterView
			if len(args) == 1 {
				view, err := rt.composer.Router(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if view == nil {
					return printResult(cmd, []routerStatus{}, func() {
						fmt.Printf("no router found for network %s\n", args[0])
					})
				}
				views = []discovery.RouterView{*view}
			} else {
				if views, err = rt.composer.Routers(cmd.Context()); err != nil {
					return err
				}
			}

			statuses := make([]routerStatus, 0, len(views))
			for i := range views {
				status := composeStatus(&views[i])
				workloads, err := rt.composer.Workloads(cmd.Context(), views[i].Network, views[i].RouterID)
				if err != nil {
					return err
				}
				for _, w := range workloads {
					ws := workloadStatus{App: w.App.Name, Name: w.LogicalName, Machines: len(w.Machines)}
					for _, ip := range w.FlycastIPs {
						ws.Flycast = append(ws.Flycast, ip.Address)
					}
					status.Workloads = append(status.Workloads, ws)
				}
				statuses = append(statuses, status)
			}

			return printResult(cmd, statuses, func() { printStatusTable(statuses) })
		},
	}
	return cmd
}

func composeStatus(view *discovery.RouterView) routerStatus {
	status := routerStatus{
		Network:   view.Network,
		RouterApp: view.App.Name,
		RouterID:  view.RouterID,
		Started:   view.Started(),
	}
	if view.Device != nil {
		ds := &deviceStatus{ID: view.Device.ID, Online: view.Device.Online}
		if len(view.Device.Addresses) > 0 {
			ds.Address = view.Device.Addresses[0]
		}
		status.Device = ds
	}
	return status
}

func printStatusTable(statuses []routerStatus) {
	if len(statuses) == 0 {
		fmt.Println("no networks found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tROUTER\tSTARTED\tDEVICE\tWORKLOAD\tMACHINES\tFLYCAST")
	for _, s := range statuses {
		device := "missing"
		if s.Device != nil {
			device = s.Device.Address
			if !s.Device.Online {
				device += " (offline)"
			}
		}
		if len(s.Workloads) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t-\t-\t-\n", s.Network, s.RouterApp, s.Started, device)
			continue
		}
		for i, wl := range s.Workloads {
			network, router, started, dev := s.Network, s.RouterApp, fmt.Sprintf("%v", s.Started), device
			if i > 0 {
				network, router, started, dev = "", "", "", ""
			}
			flycast := "-"
			if len(wl.Flycast) > 0 {
				flycast = wl.Flycast[0]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", network, router, started, dev, wl.Name, wl.Machines, flycast)
		}
	}
	w.Flush()
}
