package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the approval engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	WorkflowsCreated   *prometheus.CounterVec
	Resolutions        *prometheus.CounterVec
	Conflicts          prometheus.Counter
	Expired            prometheus.Counter
	SweepDuration      prometheus.Histogram
	GateDecisions      *prometheus.CounterVec
	Executions         *prometheus.CounterVec
	OutboxPublished    prometheus.Counter
	OutboxPublishFails prometheus.Counter
	ConfigReloads      *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkflowsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_workflows_created_total",
			Help: "Approval workflows opened, by gated service",
		}, []string{"service"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_request_resolutions_total",
			Help: "Approval levels resolved, by terminal status",
		}, []string{"status"}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_resolution_conflicts_total",
			Help: "Resolutions refused because the level had already been resolved",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_requests_expired_total",
			Help: "Approval levels expired by the sweeper",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "approvalflow_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_gate_decisions_total",
			Help: "Gate outcomes: executed, approval_required, error",
		}, []string{"service", "decision"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_executions_total",
			Help: "Gated operation runs, by outcome",
		}, []string{"outcome"}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_outbox_published_total",
			Help: "Audit outbox messages published to Kafka",
		}),
		OutboxPublishFails: f.NewCounter(prometheus.CounterOpts{
			Name: "approvalflow_outbox_publish_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
		ConfigReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalflow_config_reloads_total",
			Help: "Workflow file reloads, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncWorkflowCreated(service string) {
	if m == nil {
		return
	}
	m.WorkflowsCreated.WithLabelValues(service).Inc()
}

func (m *Metrics) IncResolution(status string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) AddExpired(n int) {
	if m == nil {
		return
	}
	m.Expired.Add(float64(n))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) IncGateDecision(service, decision string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(service, decision).Inc()
}

func (m *Metrics) IncExecution(outcome string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) IncOutboxPublishFailure() {
	if m == nil {
		return
	}
	m.OutboxPublishFails.Inc()
}

func (m *Metrics) IncConfigReload(result string) {
	if m == nil {
		return
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}
