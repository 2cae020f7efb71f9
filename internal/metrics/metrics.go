// Package metrics holds the prometheus collectors of the matching engine.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for search, allocation and sweeps.
type Metrics struct {
	// Donor search latency, eligibility + proximity + ranking
	SearchLatency prometheus.Histogram

	// Donors per search outcome: ranked, excluded, skipped
	SearchDonors *prometheus.CounterVec

	// Distance lookups by outcome: ok, error, timeout, cache_hit
	DistanceLatency *prometheus.HistogramVec

	// Conditional updates that found an unexpected status
	TransitionConflicts *prometheus.CounterVec

	// Rows changed by background sweeps
	SweepTransitions *prometheus.CounterVec

	// SLA warnings and breaches by urgency
	SLAEvents *prometheus.CounterVec
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SearchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodlink_search_duration_seconds",
			Help:    "Duration of a donor candidate search",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		SearchDonors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_search_donors_total",
			Help: "Donors seen by candidate searches by outcome and reason",
		}, []string{"outcome", "reason"}), // outcome: "ranked", "excluded", "skipped"

		DistanceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodlink_distance_lookup_duration_seconds",
			Help:    "Duration of distance provider lookups by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"outcome"}),

		TransitionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_transition_conflicts_total",
			Help: "Conditional status updates lost to a concurrent writer",
		}, []string{"entity"}),

		SweepTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_sweep_transitions_total",
			Help: "Entities moved by background sweeps",
		}, []string{"sweep"}),

		SLAEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_sla_events_total",
			Help: "SLA warnings and breaches by urgency",
		}, []string{"level", "urgency"}),
	}
}

// ObserveSearch records the total duration of one search.
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m != nil {
		m.SearchLatency.Observe(d.Seconds())
	}
}

// AddSearchDonors counts n donors with the given outcome and reason.
func (m *Metrics) AddSearchDonors(outcome, reason string, n int) {
	if m != nil && n > 0 {
		m.SearchDonors.WithLabelValues(outcome, reason).Add(float64(n))
	}
}

// ObserveDistance records one distance lookup.
func (m *Metrics) ObserveDistance(outcome string, d time.Duration) {
	if m != nil {
		m.DistanceLatency.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// IncConflict counts a lost conditional update on entity.
func (m *Metrics) IncConflict(entity string) {
	if m != nil {
		m.TransitionConflicts.WithLabelValues(entity).Inc()
	}
}

// AddSwept counts entities changed by a sweep.
func (m *Metrics) AddSwept(sweep string, n int) {
	if m != nil && n > 0 {
		m.SweepTransitions.WithLabelValues(sweep).Add(float64(n))
	}
}

// IncSLAEvent counts an SLA warning or breach.
func (m *Metrics) IncSLAEvent(level, urgency string) {
	if m != nil {
		m.SLAEvents.WithLabelValues(level, urgency).Inc()
	}
}
