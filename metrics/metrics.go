// Package metrics exposes Prometheus collectors for the moderation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	sieve "github.com/modstack/imagesieve"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing, so callers never need to guard instrumentation sites.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	analyzerErrors *prometheus.CounterVec
	riskScore      prometheus.Histogram
	overridesTotal *prometheus.CounterVec
}

// New creates the pipeline collectors and registers them with the registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesieve",
			Name:      "decisions_total",
			Help:      "Moderation decisions by status and context type.",
		}, []string{"status", "context_type"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagesieve",
			Name:      "stage_duration_seconds",
			Help:      "Analyzer stage latency by category and terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"category", "state"}),
		analyzerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesieve",
			Name:      "analyzer_errors_total",
			Help:      "Analyzer stage failures by category and error category.",
		}, []string{"category", "error_category"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imagesieve",
			Name:      "risk_score",
			Help:      "Distribution of fused risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		overridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagesieve",
			Name:      "hard_overrides_total",
			Help:      "Hard override activations by action code.",
		}, []string{"action"}),
	}

	reg.MustRegister(m.decisionsTotal, m.stageLatency, m.analyzerErrors, m.riskScore, m.overridesTotal)
	return m
}

// ObserveDecision records a completed decision.
func (m *Metrics) ObserveDecision(decision sieve.ModerationDecision, risk sieve.RiskAssessment) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(string(decision.Status), string(decision.ContextType)).Inc()
	m.riskScore.Observe(risk.FinalRiskScore)

	switch decision.Action {
	case sieve.ActionRejectMinor, sieve.ActionRejectKeyword:
		m.overridesTotal.WithLabelValues(string(decision.Action)).Inc()
	}
}

// ObserveStage records one stage trace.
func (m *Metrics) ObserveStage(trace sieve.StageTrace) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(string(trace.Category), string(trace.State)).Observe(trace.Latency.Seconds())
}

// ObserveAnalyzerError records a stage failure.
func (m *Metrics) ObserveAnalyzerError(category sieve.SignalCategory, errCategory sieve.ErrorCategory) {
	if m == nil {
		return
	}
	m.analyzerErrors.WithLabelValues(string(category), string(errCategory)).Inc()
}
