package workflow

import (
	"context"
	"fmt"

	"github.com/meshgate/meshgate/pkg/audit"
	"github.com/meshgate/meshgate/pkg/discovery"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
)

// deploy-app phases, in order.
const (
	PhaseCreateWorkload engine.Phase = "create_app"
	PhaseDeploy         engine.Phase = "deploy"
	PhaseAudit          engine.Phase = "audit"
)

// DeployApp creates and deploys a workload app onto a network, then runs
// the exposure audit. The audit phase is mandatory: it runs on every deploy,
// including re-runs that skipped the deploy itself.
type DeployApp struct {
	ctx      *Context
	machine  *engine.Machine
	auditor  *audit.Auditor
	composer *discovery.Composer
}

// NewDeployApp builds the workflow around a context.
func NewDeployApp(wctx *Context) *DeployApp {
	m := engine.NewMachine(PhaseCreateWorkload, PhaseDeploy, PhaseAudit, PhaseComplete)
	if wctx.Observer != nil {
		m.Observe(wctx.Observer)
	}
	return &DeployApp{
		ctx:      wctx,
		machine:  m,
		auditor:  audit.New(wctx.Cloud, wctx.Logger),
		composer: discovery.NewComposer(wctx.Cloud, wctx.Mesh, wctx.Logger),
	}
}

// Run hydrates a starting phase from live state and drives the machine to
// the terminal phase.
func (w *DeployApp) Run(ctx context.Context) error {
	start, err := w.Hydrate(ctx)
	if err != nil {
		return err
	}
	w.ctx.Logger.Info().
		Str("workflow", "deploy-app").
		Str("app", w.ctx.WorkloadApp).
		Str("network", w.ctx.Network).
		Str("resume_phase", string(start)).
		Msg("hydrated")
	return w.machine.Run(ctx, start, w.transition)
}

// Hydrate resolves the network's router to name the workload, then checks
// app existence, machine state, and the address allocations in phase order.
// The deploy is only complete when the target-network flycast exists and no
// other address is allocated; any stray allocation resumes at the audit.
// A network without a router cannot host workloads and fails hydration.
func (w *DeployApp) Hydrate(ctx context.Context) (engine.Phase, error) {
	view, err := w.composer.Router(ctx, w.ctx.Network)
	if err != nil {
		return "", err
	}
	if view == nil {
		return "", engine.NewUnavailableError(
			fmt.Sprintf("network %s has no router", w.ctx.Network), nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(w.ctx.Network).
			WithHint("create the network first: mgate network create " + w.ctx.Network)
	}
	w.ctx.RouterApp = view.App.Name
	w.ctx.RouterID = view.RouterID
	w.ctx.WorkloadApp = discovery.WorkloadName(w.ctx.AppName, view.RouterID)

	exists, err := w.ctx.Cloud.AppExists(ctx, w.ctx.WorkloadApp)
	if err != nil {
		return "", err
	}
	if !exists {
		return PhaseCreateWorkload, nil
	}

	machines, err := w.ctx.Cloud.ListMachines(ctx, w.ctx.WorkloadApp)
	if err != nil {
		return "", err
	}
	started := false
	for _, m := range machines {
		if m.Started() {
			started = true
			break
		}
	}
	if !started {
		return PhaseDeploy, nil
	}

	ips, err := w.ctx.Cloud.ListIPs(ctx, w.ctx.WorkloadApp)
	if err != nil {
		return "", err
	}
	flycast := false
	for _, ip := range ips {
		if !ip.Private() || ip.Network != w.ctx.Network {
			// A public address or a private one on the wrong network
			// is exposure the audit must sweep, no matter what else
			// is allocated.
			return PhaseAudit, nil
		}
		flycast = true
	}
	if !flycast {
		return PhaseAudit, nil
	}
	return PhaseComplete, nil
}

func (w *DeployApp) transition(ctx context.Context, current engine.Phase) (engine.Phase, error) {
	switch current {
	case PhaseCreateWorkload:
		return w.createWorkload(ctx)
	case PhaseDeploy:
		return w.deploy(ctx)
	case PhaseAudit:
		return w.audit(ctx)
	default:
		panic(fmt.Sprintf("workflow: deploy-app has no transition for phase %q", current))
	}
}

func (w *DeployApp) createWorkload(ctx context.Context) (engine.Phase, error) {
	if err := w.ctx.Cloud.CreateApp(ctx, w.ctx.WorkloadApp, w.ctx.Network); err != nil {
		return "", err
	}
	w.ctx.Logger.Info().Str("app", w.ctx.WorkloadApp).Msg("workload app created")
	return PhaseDeploy, nil
}

func (w *DeployApp) deploy(ctx context.Context) (engine.Phase, error) {
	err := w.ctx.Cloud.Deploy(ctx, cloud.DeployRequest{
		App:        w.ctx.WorkloadApp,
		Image:      w.ctx.AppImage,
		BuildDir:   w.ctx.AppBuildDir,
		ConfigPath: w.ctx.AppConfigPath,
		Env:        w.ctx.AppEnv,
	})
	if err != nil {
		return "", err
	}
	return PhaseAudit, nil
}

// audit always repairs; it only fails the workflow when a public address
// had to be released, because that means the deploy path exposed the
// workload before the audit caught it. The repair stands either way, so a
// re-run hydrates past the audit.
func (w *DeployApp) audit(ctx context.Context) (engine.Phase, error) {
	result, err := w.auditor.Audit(ctx, w.ctx.WorkloadApp, w.ctx.Network)
	if err != nil {
		return "", err
	}
	w.ctx.Audit = result
	if result.PublicIPsReleased > 0 {
		return "", engine.NewRejectedError(
			fmt.Sprintf("deploy exposed %d public address(es); they have been released", result.PublicIPsReleased), nil).
			WithResource(w.ctx.WorkloadApp).
			WithOperation("audit").
			WithHint("remove public-facing service sections from the app configuration and redeploy")
	}
	return PhaseComplete, nil
}
