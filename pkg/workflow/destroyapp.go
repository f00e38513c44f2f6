package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshgate/meshgate/pkg/discovery"
	"github.com/meshgate/meshgate/pkg/engine"
)

// destroy-app phases, in order.
const PhaseDestroyWorkload engine.Phase = "destroy_app"

// DestroyApp deletes a workload app. Deleting the app releases its
// addresses with it, so this is a single phase.
type DestroyApp struct {
	ctx      *Context
	machine  *engine.Machine
	composer *discovery.Composer
}

// NewDestroyApp builds the workflow around a context.
func NewDestroyApp(wctx *Context) *DestroyApp {
	m := engine.NewMachine(PhaseDestroyWorkload, PhaseComplete)
	if wctx.Observer != nil {
		m.Observe(wctx.Observer)
	}
	return &DestroyApp{
		ctx:      wctx,
		machine:  m,
		composer: discovery.NewComposer(wctx.Cloud, wctx.Mesh, wctx.Logger),
	}
}

// Run hydrates a starting phase from live state and drives the machine to
// the terminal phase.
func (w *DestroyApp) Run(ctx context.Context) error {
	start, err := w.Hydrate(ctx)
	if err != nil {
		return err
	}
	w.ctx.Logger.Info().
		Str("workflow", "destroy-app").
		Str("app", w.ctx.AppName).
		Str("network", w.ctx.Network).
		Str("resume_phase", string(start)).
		Msg("hydrated")
	return w.machine.Run(ctx, start, w.transition)
}

// Hydrate resolves the workload's physical name and checks whether the app
// still exists. When the network's router is gone the router ID cannot be
// derived, so the workload is matched by logical-name prefix among the
// network's apps instead.
func (w *DestroyApp) Hydrate(ctx context.Context) (engine.Phase, error) {
	view, err := w.composer.Router(ctx, w.ctx.Network)
	if err != nil {
		return "", err
	}
	if view != nil {
		w.ctx.RouterApp = view.App.Name
		w.ctx.RouterID = view.RouterID
		w.ctx.WorkloadApp = discovery.WorkloadName(w.ctx.AppName, view.RouterID)

		exists, err := w.ctx.Cloud.AppExists(ctx, w.ctx.WorkloadApp)
		if err != nil {
			return "", err
		}
		if exists {
			return PhaseDestroyWorkload, nil
		}
		return PhaseComplete, nil
	}

	apps, err := w.ctx.Cloud.ListApps(ctx)
	if err != nil {
		return "", err
	}
	prefix := w.ctx.AppName + "-"
	for _, app := range apps {
		if app.Network != w.ctx.Network || !strings.HasPrefix(app.Name, prefix) {
			continue
		}
		// The remainder must look like a router ID, not a longer
		// logical name that happens to share the prefix.
		if suffix := app.Name[len(prefix):]; !strings.Contains(suffix, "-") {
			w.ctx.WorkloadApp = app.Name
			return PhaseDestroyWorkload, nil
		}
	}
	return PhaseComplete, nil
}

func (w *DestroyApp) transition(ctx context.Context, current engine.Phase) (engine.Phase, error) {
	switch current {
	case PhaseDestroyWorkload:
		return w.destroyWorkload(ctx)
	default:
		panic(fmt.Sprintf("workflow: destroy-app has no transition for phase %q", current))
	}
}

func (w *DestroyApp) destroyWorkload(ctx context.Context) (engine.Phase, error) {
	if err := w.ctx.Cloud.DeleteApp(ctx, w.ctx.WorkloadApp); err != nil {
		return "", err
	}
	w.ctx.Logger.Info().Str("app", w.ctx.WorkloadApp).Msg("workload app deleted")
	return PhaseComplete, nil
}
