package telemetry

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus instrumentation for meshgate workflows.
type Metrics struct {
	config MetricsConfig

	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec

	phaseTransitions *prometheus.CounterVec

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec

	auditPublicReleases  prometheus.Counter
	auditCertsRemoved    prometheus.Counter
	auditWarnings        prometheus.Counter
	flycastAllocations   prometheus.Counter
	policyUpdates        prometheus.Counter

	activeWorkflows prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled config yields a no-op
// instance whose record methods are safe to call.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflow invocations started",
			},
			[]string{"workflow"},
		),
		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflow invocations completed",
			},
			[]string{"workflow", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Duration of workflow invocations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"workflow", "status"},
		),

		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of phase transitions executed",
			},
			[]string{"workflow", "phase"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of workflow errors by class",
			},
			[]string{"class"},
		),

		auditPublicReleases: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_public_ips_released_total",
				Help:      "Total number of public addresses released by the deploy audit",
			},
		),
		auditCertsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_certificates_removed_total",
				Help:      "Total number of TLS certificates removed by the deploy audit",
			},
		),
		auditWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_warnings_total",
				Help:      "Total number of warnings raised by the deploy audit",
			},
		),
		flycastAllocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flycast_allocations_total",
				Help:      "Total number of private addresses allocated",
			},
		),
		policyUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_updates_total",
				Help:      "Total number of policy document writes",
			},
		),

		activeWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of running workflow invocations",
			},
		),
	}

	registry.MustRegister(
		m.workflowsStarted,
		m.workflowsCompleted,
		m.workflowDuration,
		m.phaseTransitions,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.errorsByClass,
		m.auditPublicReleases,
		m.auditCertsRemoved,
		m.auditWarnings,
		m.flycastAllocations,
		m.policyUpdates,
		m.activeWorkflows,
	)

	return m, nil
}

// RecordWorkflowStarted increments the started counter.
func (m *Metrics) RecordWorkflowStarted(workflow string) {
	if m.workflowsStarted == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
	m.activeWorkflows.Inc()
}

// RecordWorkflowCompleted records a finished workflow with status and
// duration.
func (m *Metrics) RecordWorkflowCompleted(workflow, status string, duration time.Duration) {
	if m.workflowsCompleted == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(workflow, status).Inc()
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
	m.activeWorkflows.Dec()
}

// RecordPhaseTransition records one executed phase transition.
func (m *Metrics) RecordPhaseTransition(workflow, phase string) {
	if m.phaseTransitions == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(workflow, phase).Inc()
}

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a failed provider call.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// RecordError records a classified workflow error.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordAudit records the repairs one deploy audit performed.
func (m *Metrics) RecordAudit(publicReleased, certsRemoved, warnings int) {
	if m.auditPublicReleases == nil {
		return
	}
	m.auditPublicReleases.Add(float64(publicReleased))
	m.auditCertsRemoved.Add(float64(certsRemoved))
	m.auditWarnings.Add(float64(warnings))
}

// RecordFlycastAllocation records one private address allocation.
func (m *Metrics) RecordFlycastAllocation() {
	if m.flycastAllocations == nil {
		return
	}
	m.flycastAllocations.Inc()
}

// RecordPolicyUpdate records one committed policy write.
func (m *Metrics) RecordPolicyUpdate() {
	if m.policyUpdates == nil {
		return
	}
	m.policyUpdates.Inc()
}

// Timer times an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background when a
// listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("metrics server error: " + err.Error() + "\n")
		}
	}()

	return nil
}
