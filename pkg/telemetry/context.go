package telemetry

import (
	"context"

	"github.com/meshgate/meshgate/pkg/engine"
)

// Telemetry bundles the logger, tracer, metrics, and event publisher.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry builds all telemetry components from one configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops all components, flushing pending data.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// RunWorkflow instruments fn as one workflow invocation: a span covering
// the run, started/completed metrics, lifecycle events, and classified
// error accounting.
func (t *Telemetry) RunWorkflow(ctx context.Context, workflow, network string, fn func(ctx context.Context) error) error {
	spanCtx, span := t.Tracer.StartWorkflowSpan(ctx, workflow, network)
	defer span.End()

	t.Metrics.RecordWorkflowStarted(workflow)
	_ = t.Events.PublishWorkflowStarted(workflow, network)
	timer := NewTimer()

	err := fn(spanCtx)

	if err != nil {
		RecordError(span, err)
		t.Metrics.RecordWorkflowCompleted(workflow, "failed", timer.Duration())
		class := engine.ClassOf(err)
		if class == "" {
			class = "unclassified"
		}
		t.Metrics.RecordError(string(class))
		_ = t.Events.PublishWorkflowFailed(workflow, network, err.Error())
		return err
	}

	RecordSuccess(span)
	t.Metrics.RecordWorkflowCompleted(workflow, "succeeded", timer.Duration())
	_ = t.Events.PublishWorkflowCompleted(workflow, network, timer.Duration())
	return nil
}

// PhaseObserver returns a transition observer that records phase metrics
// and publishes phase events for one workflow invocation.
func (t *Telemetry) PhaseObserver(workflow, network string) engine.TransitionObserver {
	return func(from, to engine.Phase) {
		t.Metrics.RecordPhaseTransition(workflow, string(from))
		_ = t.Events.PublishPhaseCompleted(workflow, network, string(from))
	}
}
