// Package metrics exports engine metrics through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskledger/pkg/domain"
)

const namespace = "taskledger"

// Recorder implements core.MetricsRecorder on a private registry.
type Recorder struct {
	registry        *prometheus.Registry
	lockWait        *prometheus.HistogramVec
	transactions    *prometheus.HistogramVec
	ruleRejections  *prometheus.CounterVec
	auditAppends    *prometheus.CounterVec
	followUpFailure *prometheus.CounterVec
}

// NewRecorder registers the engine collectors plus Go runtime and process
// collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for entity locks, by entity type and outcome.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"entity", "outcome"}),
		transactions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Transaction lifetime from begin to commit or abort, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ruleRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_rejections_total",
			Help:      "Transactions rejected by a before-write rule or storage constraint.",
		}, []string{"rule"}),
		auditAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Audit records appended, by entity type.",
		}, []string{"entity"}),
		followUpFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_failures_total",
			Help:      "Derived-state follow-up transactions that failed after retries.",
		}, []string{"hook"}),
	}
	reg.MustRegister(
		r.lockWait, r.transactions, r.ruleRejections, r.auditAppends, r.followUpFailure,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveLockWait(entity domain.EntityType, outcome string, wait time.Duration) {
	r.lockWait.WithLabelValues(string(entity), outcome).Observe(wait.Seconds())
}

func (r *Recorder) ObserveTransaction(outcome string, d time.Duration) {
	r.transactions.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Recorder) IncRuleRejection(rule string) {
	r.ruleRejections.WithLabelValues(rule).Inc()
}

func (r *Recorder) IncAuditAppend(entity domain.EntityType) {
	r.auditAppends.WithLabelValues(string(entity)).Inc()
}

func (r *Recorder) IncFollowUpFailure(hook string) {
	r.followUpFailure.WithLabelValues(hook).Inc()
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
