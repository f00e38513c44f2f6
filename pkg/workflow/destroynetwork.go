package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshgate/meshgate/pkg/discovery"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/policy"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// destroy-network phases, in order.
const (
	PhaseClearDNS     engine.Phase = "clear_dns"
	PhaseRemoveDevice engine.Phase = "remove_device"
	PhaseDestroyApp   engine.Phase = "destroy_app"
)

// DestroyNetwork tears a network router down: clear its split DNS entry,
// remove its mesh device, roll back its policy grants, and delete the app.
// Teardown order is the reverse of provisioning so a crash mid-way never
// leaves DNS pointing at a deleted device.
type DestroyNetwork struct {
	ctx      *Context
	machine  *engine.Machine
	policy   *policy.Engine
	composer *discovery.Composer
}

// NewDestroyNetwork builds the workflow around a context.
func NewDestroyNetwork(wctx *Context) *DestroyNetwork {
	m := engine.NewMachine(PhaseClearDNS, PhaseRemoveDevice, PhaseDestroyApp, PhaseComplete)
	if wctx.Observer != nil {
		m.Observe(wctx.Observer)
	}
	return &DestroyNetwork{
		ctx:      wctx,
		machine:  m,
		policy:   policy.NewEngine(wctx.Mesh, wctx.Logger),
		composer: discovery.NewComposer(wctx.Cloud, wctx.Mesh, wctx.Logger),
	}
}

// Run hydrates a starting phase from live state and drives the machine to
// the terminal phase.
func (w *DestroyNetwork) Run(ctx context.Context) error {
	start, err := w.Hydrate(ctx)
	if err != nil {
		return err
	}
	w.ctx.Logger.Info().
		Str("workflow", "destroy-network").
		Str("network", w.ctx.Network).
		Str("resume_phase", string(start)).
		Msg("hydrated")
	return w.machine.Run(ctx, start, w.transition)
}

// Hydrate resumes at the first teardown step whose target still exists,
// checked in phase order: DNS entry, then device, then app. A network with
// no router, no device, and no DNS entry hydrates straight to complete.
// Policy rollback happens inside destroy_app, so lingering policy grants
// alone do not keep the workflow alive.
func (w *DestroyNetwork) Hydrate(ctx context.Context) (engine.Phase, error) {
	dns, err := w.ctx.Mesh.GetSplitDNS(ctx)
	if err != nil {
		return "", err
	}
	dnsSet := len(dns[w.ctx.Domain()]) > 0

	view, err := w.composer.Router(ctx, w.ctx.Network)
	if err != nil {
		return "", err
	}
	if view != nil {
		w.ctx.RouterApp = view.App.Name
		w.ctx.RouterID = view.RouterID
	}

	devices, err := w.ctx.Mesh.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	w.ctx.Device = routerDevice(devices, view, w.ctx.Network)

	switch {
	case dnsSet:
		return PhaseClearDNS, nil
	case w.ctx.Device != nil:
		return PhaseRemoveDevice, nil
	case view != nil:
		return PhaseDestroyApp, nil
	default:
		return PhaseComplete, nil
	}
}

// routerDevice finds the network's router device. While the app is still
// around the device is matched on the full app name, like discovery does
// everywhere else. Once the app is gone the orphan's hostname itself must
// parse as a router name for exactly this network; a bare prefix match
// would also catch sibling networks whose names extend ours, such as
// lab-2's router when tearing down lab.
func routerDevice(devices []mesh.Device, view *discovery.RouterView, network string) *mesh.Device {
	if view != nil {
		return discovery.FindDevice(devices, view.App.Name)
	}
	for i := range devices {
		if parsed, _, ok := discovery.ParseRouter(devices[i].Hostname); ok && parsed == network {
			return &devices[i]
		}
	}
	return nil
}

func (w *DestroyNetwork) transition(ctx context.Context, current engine.Phase) (engine.Phase, error) {
	switch current {
	case PhaseClearDNS:
		return w.clearDNS(ctx)
	case PhaseRemoveDevice:
		return w.removeDevice(ctx)
	case PhaseDestroyApp:
		return w.destroyApp(ctx)
	default:
		panic(fmt.Sprintf("workflow: destroy-network has no transition for phase %q", current))
	}
}

func (w *DestroyNetwork) clearDNS(ctx context.Context) (engine.Phase, error) {
	if err := w.ctx.Mesh.SetSplitDNS(ctx, w.ctx.Domain(), nil); err != nil {
		return "", err
	}
	w.ctx.Logger.Info().Str("domain", w.ctx.Domain()).Msg("split DNS cleared")
	return PhaseRemoveDevice, nil
}

func (w *DestroyNetwork) removeDevice(ctx context.Context) (engine.Phase, error) {
	if w.ctx.Device == nil {
		return PhaseDestroyApp, nil
	}
	if err := w.ctx.Mesh.DeleteDevice(ctx, w.ctx.Device.ID); err != nil {
		return "", err
	}
	w.ctx.Logger.Info().Str("device", w.ctx.Device.ID).Msg("router device removed")
	return PhaseDestroyApp, nil
}

// destroyApp rolls back the network's policy grants and deletes the router
// app. Both halves tolerate already-gone state so a crash between them
// resumes cleanly.
func (w *DestroyNetwork) destroyApp(ctx context.Context) (engine.Phase, error) {
	if err := w.rollbackPolicy(ctx); err != nil {
		return "", err
	}
	if w.ctx.RouterApp != "" {
		if err := w.ctx.Cloud.DeleteApp(ctx, w.ctx.RouterApp); err != nil {
			return "", err
		}
		w.ctx.Logger.Info().Str("app", w.ctx.RouterApp).Msg("router app deleted")
	}
	return PhaseComplete, nil
}

// rollbackPolicy removes the grants create-network made: the tag owner
// entry, and per advertised route the auto-approver entry and the accept
// rule. The routes come from the live policy rather than the long-gone
// device: any auto-approver route listing our tag was put there by us.
func (w *DestroyNetwork) rollbackPolicy(ctx context.Context) error {
	doc, err := w.ctx.Mesh.GetPolicy(ctx)
	if err != nil {
		return err
	}
	routes, err := taggedRoutes(doc, w.ctx.Tag)
	if err != nil {
		return err
	}

	patches := []policy.PatchFunc{policy.UnpatchTagOwner(w.ctx.Tag)}
	for _, route := range routes {
		patches = append(patches,
			policy.UnpatchAutoApprover(route, w.ctx.Tag),
			policy.UnpatchACLRule(acceptRule(route)),
		)
	}
	_, err = w.policy.Revert(ctx, patches...)
	return err
}

// taggedRoutes lists the auto-approver routes whose approver set contains
// the given tag.
func taggedRoutes(doc policy.Document, tag string) ([]string, error) {
	approvers, err := doc.AutoApproverRoutes()
	if err != nil {
		return nil, err
	}
	var routes []string
	for route, raw := range approvers {
		var tags []string
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, fmt.Errorf("decoding auto-approvers for route %s: %w", route, err)
		}
		for _, t := range tags {
			if t == tag {
				routes = append(routes, route)
				break
			}
		}
	}
	return routes, nil
}
