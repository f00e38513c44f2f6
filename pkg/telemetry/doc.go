// Package telemetry provides observability instrumentation for meshgate:
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and an in-process event publisher the CLI subscribes
// to for progress output.
//
// Initialize once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Instrument a workflow invocation:
//
//	err = tel.RunWorkflow(ctx, "create-network", network, func(ctx context.Context) error {
//	    wctx.Observer = tel.PhaseObserver("create-network", network)
//	    return workflow.NewCreateNetwork(wctx).Run(ctx)
//	})
//
// RunWorkflow wraps the run in a trace span, counts it in the workflow
// metrics, and publishes workflow.started / workflow.completed /
// workflow.failed events. The phase observer does the same per transition.
//
// Components that log take a plain zerolog.Logger; obtain one with
// tel.Logger.Zerolog() or a component child via NewComponentLogger.
package telemetry
