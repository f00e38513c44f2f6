// Package discovery composes independently failing read sources (app
// listings, per-app machine state, mesh device state) into the views the
// workflows and the status command consume. Any source that errors or comes
// up empty for a given app leaves that facet nil in the composed view;
// partial views are normal, not exceptional.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// maxFanOut bounds concurrent per-router reads when hydrating every router
// in an organization. Fan-out is confined to read-only calls.
const maxFanOut = 8

// CloudReader is the read-only slice of the cloud provider discovery needs.
type CloudReader interface {
	ListApps(ctx context.Context) ([]cloud.App, error)
	ListMachines(ctx context.Context, app string) ([]cloud.Machine, error)
	ListIPs(ctx context.Context, app string) ([]cloud.IPAddress, error)
}

// MeshReader is the read-only slice of the mesh provider discovery needs.
type MeshReader interface {
	ListDevices(ctx context.Context) ([]mesh.Device, error)
}

// RouterView is the composed state of one network router. Machines and
// Device are nil when their source failed or found nothing.
type RouterView struct {
	App      cloud.App
	Network  string
	RouterID string
	Machines []cloud.Machine
	Device   *mesh.Device
}

// Started reports whether at least one router machine is running.
func (v *RouterView) Started() bool {
	for _, m := range v.Machines {
		if m.Started() {
			return true
		}
	}
	return false
}

// WorkloadView is the composed state of one workload app.
type WorkloadView struct {
	App         cloud.App
	LogicalName string
	RouterID    string
	Machines    []cloud.Machine
	FlycastIPs  []cloud.IPAddress
}

// Composer merges the read sources.
type Composer struct {
	cloud  CloudReader
	mesh   MeshReader
	logger zerolog.Logger
}

// NewComposer creates a composer over the two providers.
func NewComposer(cloudAPI CloudReader, meshAPI MeshReader, logger zerolog.Logger) *Composer {
	return &Composer{
		cloud:  cloudAPI,
		mesh:   meshAPI,
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// Router returns the composed view of the router fronting network, or nil
// when no router app exists. Only the app listing is authoritative; machine
// and device facets degrade to nil on failure.
func (c *Composer) Router(ctx context.Context, network string) (*RouterView, error) {
	apps, err := c.cloud.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		parsedNetwork, routerID, ok := ParseRouter(app.Name)
		if !ok || parsedNetwork != network {
			continue
		}
		view := &RouterView{App: app, Network: network, RouterID: routerID}
		c.fillRouterFacets(ctx, view)
		return view, nil
	}
	return nil, nil
}

// Routers returns composed views for every router in the organization,
// fanning the per-router reads out concurrently. The fan-out is read-only.
func (c *Composer) Routers(ctx context.Context) ([]RouterView, error) {
	apps, err := c.cloud.ListApps(ctx)
	if err != nil {
		return nil, err
	}

	var views []RouterView
	for _, app := range apps {
		network, routerID, ok := ParseRouter(app.Name)
		if !ok {
			continue
		}
		views = append(views, RouterView{App: app, Network: network, RouterID: routerID})
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxFanOut)
	for i := range views {
		wg.Add(1)
		sem <- struct{}{}
		go func(view *RouterView) {
			defer wg.Done()
			defer func() { <-sem }()
			c.fillRouterFacets(ctx, view)
		}(&views[i])
	}
	wg.Wait()

	sort.Slice(views, func(i, j int) bool { return views[i].Network < views[j].Network })
	return views, nil
}

// Workloads returns composed views of every workload scoped to routerID on
// the given network.
func (c *Composer) Workloads(ctx context.Context, network, routerID string) ([]WorkloadView, error) {
	apps, err := c.cloud.ListApps(ctx)
	if err != nil {
		return nil, err
	}

	var views []WorkloadView
	for _, app := range apps {
		if strings.HasPrefix(app.Name, RouterPrefix) {
			continue
		}
		logical, ok := ParseWorkload(app.Name, routerID)
		if !ok || app.Network != network {
			continue
		}
		view := WorkloadView{App: app, LogicalName: logical, RouterID: routerID}

		if machines, err := c.cloud.ListMachines(ctx, app.Name); err != nil {
			c.logger.Warn().Err(err).Str("app", app.Name).Msg("machine facet unavailable")
		} else {
			view.Machines = machines
		}
		if ips, err := c.cloud.ListIPs(ctx, app.Name); err != nil {
			c.logger.Warn().Err(err).Str("app", app.Name).Msg("ip facet unavailable")
		} else {
			for _, ip := range ips {
				if ip.Private() {
					view.FlycastIPs = append(view.FlycastIPs, ip)
				}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Device looks up the mesh device for an app hostname. An exact hostname
// match wins; otherwise a prefix match handles the platform-assigned
// disambiguating suffix, preferring online devices, then most recently
// seen. Returns nil when nothing matches or the source fails.
func (c *Composer) Device(ctx context.Context, hostname string) *mesh.Device {
	devices, err := c.mesh.ListDevices(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("hostname", hostname).Msg("device facet unavailable")
		return nil
	}
	return FindDevice(devices, hostname)
}

// FindDevice applies the hostname-match fallback over an already-fetched
// device list.
func FindDevice(devices []mesh.Device, hostname string) *mesh.Device {
	for i := range devices {
		if devices[i].Hostname == hostname {
			return &devices[i]
		}
	}

	var candidates []*mesh.Device
	for i := range devices {
		if devices[i].Hostname != hostname && strings.HasPrefix(devices[i].Hostname, hostname) {
			candidates = append(candidates, &devices[i])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Online != candidates[j].Online {
			return candidates[i].Online
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})
	return candidates[0]
}

func (c *Composer) fillRouterFacets(ctx context.Context, view *RouterView) {
	if machines, err := c.cloud.ListMachines(ctx, view.App.Name); err != nil {
		c.logger.Warn().Err(err).Str("app", view.App.Name).Msg("machine facet unavailable")
	} else {
		view.Machines = machines
	}
	view.Device = c.Device(ctx, view.App.Name)
}
