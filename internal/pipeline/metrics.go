package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	duration       prometheus.Histogram
	lastSuccess    prometheus.Gauge
	state          prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_cycles_total",
			Help: "Ingestion cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_candidates_total",
			Help: "Candidates seen per pipeline stage.",
		}, []string{"stage"}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_source_failures_total",
			Help: "Sources that contributed nothing because their feed failed.",
		}, []string{"source"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdesk_cycle_duration_seconds",
			Help:    "Wall time of ingestion cycles.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "newsdesk_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that completed without error.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "newsdesk_cycle_state",
			Help: "Current orchestrator state (0 is idle).",
		}),
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) sourceFailed(sourceID string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(sourceID).Inc()
}

func (m *Metrics) observe(r *Report) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(r.Trigger, r.Outcome).Inc()
	m.duration.Observe(r.Duration().Seconds())
	m.candidates.WithLabelValues("fetched").Add(float64(r.Fetched))
	m.candidates.WithLabelValues("exact_duplicate").Add(float64(r.ExactDuplicates))
	m.candidates.WithLabelValues("fuzzy_duplicate").Add(float64(r.FuzzyDuplicates))
	m.candidates.WithLabelValues("unique").Add(float64(r.Unique))
	m.candidates.WithLabelValues("enriched").Add(float64(r.Enriched))
	if r.Outcome == OutcomeOK || r.Outcome == OutcomeEmpty {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}
