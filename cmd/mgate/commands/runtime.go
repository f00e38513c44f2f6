package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/pkg/config"
	"github.com/meshgate/meshgate/pkg/credstore"
	"github.com/meshgate/meshgate/pkg/discovery"
	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/proc"
	"github.com/meshgate/meshgate/pkg/providers/cloud"
	"github.com/meshgate/meshgate/pkg/providers/mesh"
	"github.com/meshgate/meshgate/pkg/telemetry"
	"github.com/meshgate/meshgate/pkg/workflow"
)

// runtime bundles everything a provider-facing command needs: validated
// config, telemetry, and the two provider clients.
type runtime struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	cloud    *cloud.Client
	mesh     *mesh.Client
	composer *discovery.Composer
}

// newRuntime loads config, overlays the global flags, reads the stored mesh
// API key, and wires up telemetry and both providers.
func newRuntime() (*runtime, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if orgFlag != "" {
		cfg.Organization = orgFlag
	}
	if tailnetFlag != "" {
		cfg.Tailnet = tailnetFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, engine.NewRejectedError("invalid configuration", err).
			WithHint("set organization and tailnet in " + path + " or pass --org and --tailnet")
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = buildVersion
	tcfg.Logging.Level = cfg.Logging.Level
	tcfg.Logging.Format = cfg.Logging.Format
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if jsonOutput {
		tcfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		tcfg.Metrics.ListenAddress = metricsAddr
	}
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, err
	}
	if metricsAddr != "" {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, err
		}
	}
	if !jsonOutput {
		progress := tel.Logger.Zerolog()
		tel.Events.Subscribe(func(e telemetry.Event) {
			progress.Info().Str("workflow", e.Workflow).Str("phase", e.Phase).Msg("phase complete")
		}, telemetry.FilterByType(telemetry.EventTypePhaseCompleted))
	}

	store, err := credstore.New()
	if err != nil {
		return nil, err
	}
	apiKey, err := store.GetAPIKey()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, engine.NewDeniedError("no mesh API key stored", nil).
			WithHint("store one with: mgate auth set-key")
	}

	logger := tel.Logger.Zerolog()
	runner := proc.NewRunner(logger)
	cloudClient := cloud.NewClient(runner, cfg.Organization, logger)
	meshClient := mesh.NewClient(cfg.Tailnet, apiKey, logger)

	return &runtime{
		cfg:      cfg,
		tel:      tel,
		cloud:    cloudClient,
		mesh:     meshClient,
		composer: discovery.NewComposer(cloudClient, meshClient, logger),
	}, nil
}

// shutdown flushes telemetry. Errors during flush are logged, not returned;
// the command's own result matters more.
func (r *runtime) shutdown(ctx context.Context) {
	if err := r.tel.Shutdown(ctx); err != nil {
		logger := r.tel.Logger.Zerolog()
		logger.Warn().Err(err).Msg("telemetry shutdown incomplete")
	}
}

// newWorkflowContext builds a workflow context seeded from config.
func (r *runtime) newWorkflowContext(network string) *workflow.Context {
	wctx := workflow.NewContext(r.cloud, r.mesh, network, r.tel.Logger.Zerolog())
	wctx.RouterImage = r.cfg.RouterImage
	wctx.DeviceWaitTimeout = r.cfg.DeviceWaitTimeout
	wctx.DevicePollInterval = r.cfg.DevicePollInterval
	return wctx
}

// confirm prompts on the command's input stream and returns true on a yes.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
