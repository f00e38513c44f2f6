package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/meshgate/meshgate/pkg/discovery"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/policy"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
)

// create-network phases, in order.
const (
	PhaseCreateApp     engine.Phase = "create_app"
	PhaseDeployRouter  engine.Phase = "deploy_router"
	PhaseAwaitDevice   engine.Phase = "await_device"
	PhaseApproveRoutes engine.Phase = "approve_routes"
	PhaseConfigureDNS  engine.Phase = "configure_dns"
	PhaseAcceptRoutes  engine.Phase = "accept_routes"
	PhaseComplete      engine.Phase = "complete"
)

// CreateNetwork provisions a network router: create the app, deploy the
// router image, wait for its mesh device, approve its routes, point split
// DNS at it, and open the ACL.
type CreateNetwork struct {
	ctx      *Context
	machine  *engine.Machine
	policy   *policy.Engine
	composer *discovery.Composer
}

// NewCreateNetwork builds the workflow around a context.
func NewCreateNetwork(wctx *Context) *CreateNetwork {
	m := engine.NewMachine(
		PhaseCreateApp, PhaseDeployRouter, PhaseAwaitDevice,
		PhaseApproveRoutes, PhaseConfigureDNS, PhaseAcceptRoutes, PhaseComplete,
	)
	if wctx.Observer != nil {
		m.Observe(wctx.Observer)
	}
	return &CreateNetwork{
		ctx:      wctx,
		machine:  m,
		policy:   policy.NewEngine(wctx.Mesh, wctx.Logger),
		composer: discovery.NewComposer(wctx.Cloud, wctx.Mesh, wctx.Logger),
	}
}

// Run hydrates a starting phase from live state and drives the machine to
// the terminal phase.
func (w *CreateNetwork) Run(ctx context.Context) error {
	start, err := w.Hydrate(ctx)
	if err != nil {
		return err
	}
	w.ctx.Logger.Info().
		Str("workflow", "create-network").
		Str("network", w.ctx.Network).
		Str("resume_phase", string(start)).
		Msg("hydrated")
	return w.machine.Run(ctx, start, w.transition)
}

// Hydrate picks the resume phase with ordered read-only checks, cheapest
// first. Absence at any check selects the phase; it is never an error. With
// ApproveRoutes off, the workflow short-circuits to complete once the
// mandatory preconditions (app, deploy, device) hold, without evaluating the
// skipped stages' preconditions.
func (w *CreateNetwork) Hydrate(ctx context.Context) (engine.Phase, error) {
	view, err := w.composer.Router(ctx, w.ctx.Network)
	if err != nil {
		return "", err
	}
	if view == nil {
		return PhaseCreateApp, nil
	}
	w.ctx.RouterApp = view.App.Name
	w.ctx.RouterID = view.RouterID

	if !view.Started() {
		return PhaseDeployRouter, nil
	}
	if view.Device == nil {
		return PhaseAwaitDevice, nil
	}
	w.ctx.Device = view.Device

	if !w.ctx.ApproveRoutes {
		return PhaseComplete, nil
	}

	routes, err := w.ctx.Mesh.GetRoutes(ctx, view.Device.ID)
	if err != nil {
		return "", err
	}
	if routes == nil || len(routes.Advertised) == 0 || len(routes.Unapproved()) > 0 {
		return PhaseApproveRoutes, nil
	}
	w.ctx.Routes = routes.Advertised

	dns, err := w.ctx.Mesh.GetSplitDNS(ctx)
	if err != nil {
		return "", err
	}
	if len(dns[w.ctx.Domain()]) == 0 {
		return PhaseConfigureDNS, nil
	}

	accepted, err := w.aclRulesPresent(ctx)
	if err != nil {
		return "", err
	}
	if !accepted {
		return PhaseAcceptRoutes, nil
	}
	return PhaseComplete, nil
}

func (w *CreateNetwork) transition(ctx context.Context, current engine.Phase) (engine.Phase, error) {
	switch current {
	case PhaseCreateApp:
		return w.createApp(ctx)
	case PhaseDeployRouter:
		return w.deployRouter(ctx)
	case PhaseAwaitDevice:
		return w.awaitDevice(ctx)
	case PhaseApproveRoutes:
		return w.approveRoutes(ctx)
	case PhaseConfigureDNS:
		return w.configureDNS(ctx)
	case PhaseAcceptRoutes:
		return w.acceptRoutes(ctx)
	default:
		panic(fmt.Sprintf("workflow: create-network has no transition for phase %q", current))
	}
}

// createApp mints the router identity, grants its tag in the shared policy,
// and creates the app with a staged registration key.
func (w *CreateNetwork) createApp(ctx context.Context) (engine.Phase, error) {
	w.ctx.RouterID = newRouterID()
	w.ctx.RouterApp = discovery.RouterName(w.ctx.Network, w.ctx.RouterID)

	if _, err := w.policy.Apply(ctx, policy.PatchTagOwner(w.ctx.Tag)); err != nil {
		return "", err
	}

	key, err := w.ctx.Mesh.CreateAuthKey(ctx, mesh.AuthKeyRequest{
		Tags:          []string{w.ctx.Tag},
		Preauthorized: true,
		Expiry:        time.Hour,
	})
	if err != nil {
		return "", err
	}

	if err := w.ctx.Cloud.CreateApp(ctx, w.ctx.RouterApp, w.ctx.Network); err != nil {
		return "", err
	}
	if err := w.ctx.Cloud.SetSecrets(ctx, w.ctx.RouterApp, map[string]string{
		AuthKeySecret: key.Key,
	}, true); err != nil {
		return "", err
	}

	w.ctx.Logger.Info().Str("app", w.ctx.RouterApp).Msg("router app created")
	return PhaseDeployRouter, nil
}

func (w *CreateNetwork) deployRouter(ctx context.Context) (engine.Phase, error) {
	err := w.ctx.Cloud.Deploy(ctx, cloud.DeployRequest{
		App:   w.ctx.RouterApp,
		Image: w.ctx.RouterImage,
		Env: map[string]string{
			"MESH_HOSTNAME": w.ctx.RouterApp,
		},
	})
	if err != nil {
		return "", err
	}
	return PhaseAwaitDevice, nil
}

// awaitDevice polls for the router's mesh device at a fixed interval with a
// hard timeout. The only ways out are the device appearing, the timeout
// firing, or the process dying.
func (w *CreateNetwork) awaitDevice(ctx context.Context) (engine.Phase, error) {
	deadline := time.NewTimer(w.ctx.DeviceWaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(w.ctx.DevicePollInterval)
	defer tick.Stop()

	for {
		devices, err := w.ctx.Mesh.ListDevices(ctx)
		if err != nil {
			return "", err
		}
		if device := discovery.FindDevice(devices, w.ctx.RouterApp); device != nil {
			w.ctx.Device = device
			w.ctx.Logger.Info().Str("device", device.ID).Msg("router joined the mesh")
			if !w.ctx.ApproveRoutes {
				return PhaseComplete, nil
			}
			return PhaseApproveRoutes, nil
		}

		select {
		case <-deadline.C:
			return "", engine.NewTimeoutError(
				fmt.Sprintf("router %s did not join the mesh within %s", w.ctx.RouterApp, w.ctx.DeviceWaitTimeout), nil).
				WithCode(engine.ErrCodeDeviceTimeout).
				WithResource(w.ctx.RouterApp).
				WithHint("check the router app logs; the registration key may have expired")
		case <-tick.C:
		}
	}
}

func (w *CreateNetwork) approveRoutes(ctx context.Context) (engine.Phase, error) {
	routes, err := w.ctx.Mesh.GetRoutes(ctx, w.ctx.Device.ID)
	if err != nil {
		return "", err
	}
	if routes == nil || len(routes.Advertised) == 0 {
		return "", engine.NewUnavailableError("router advertises no routes yet", nil).
			WithResource(w.ctx.RouterApp).
			WithHint("the router may still be starting; re-run to resume from route approval")
	}
	if unapproved := routes.Unapproved(); len(unapproved) > 0 {
		if err := w.ctx.Mesh.ApproveRoutes(ctx, w.ctx.Device.ID, routes.Advertised); err != nil {
			return "", err
		}
	}
	w.ctx.Routes = routes.Advertised
	return PhaseConfigureDNS, nil
}

// configureDNS points the network's internal domain at the router's mesh
// address so tailnet clients resolve workload names through it.
func (w *CreateNetwork) configureDNS(ctx context.Context) (engine.Phase, error) {
	if len(w.ctx.Device.Addresses) == 0 {
		return "", engine.NewUnavailableError("router device has no mesh address", nil).
			WithResource(w.ctx.Device.ID)
	}
	resolver := w.ctx.Device.Addresses[0]
	if err := w.ctx.Mesh.SetSplitDNS(ctx, w.ctx.Domain(), []string{resolver}); err != nil {
		return "", err
	}
	w.ctx.Logger.Info().Str("domain", w.ctx.Domain()).Str("resolver", resolver).Msg("split DNS configured")
	return PhaseAcceptRoutes, nil
}

// acceptRoutes pre-authorizes the router tag as auto-approver for its
// routes and opens accept rules for tailnet members.
func (w *CreateNetwork) acceptRoutes(ctx context.Context) (engine.Phase, error) {
	patches := make([]policy.PatchFunc, 0, 2*len(w.ctx.Routes))
	for _, route := range w.ctx.Routes {
		patches = append(patches,
			policy.PatchAutoApprover(route, w.ctx.Tag),
			policy.PatchACLRule(acceptRule(route)),
		)
	}
	if _, err := w.policy.Apply(ctx, patches...); err != nil {
		return "", err
	}
	return PhaseComplete, nil
}

// aclRulesPresent checks whether every advertised route already has its
// accept rule in the shared policy.
func (w *CreateNetwork) aclRulesPresent(ctx context.Context) (bool, error) {
	doc, err := w.ctx.Mesh.GetPolicy(ctx)
	if err != nil {
		return false, err
	}
	for _, route := range w.ctx.Routes {
		patched, err := policy.AddACLRule(doc, acceptRule(route))
		if err != nil {
			return false, err
		}
		origBytes, err := doc.Encode()
		if err != nil {
			return false, err
		}
		patchedBytes, err := patched.Encode()
		if err != nil {
			return false, err
		}
		if string(origBytes) != string(patchedBytes) {
			return false, nil
		}
	}
	return true, nil
}
