package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pass counters to prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	passes          *prometheus.CounterVec
	evaluations     prometheus.Counter
	flips           prometheus.Counter
	updates         prometheus.Counter
	predicateErrors prometheus.Counter
	includedRecords prometheus.Gauge
	liveRecords     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facets",
			Name:      "passes_total",
			Help:      "Coordination passes completed, by kind.",
		}, []string{"kind"}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facets",
			Name:      "records_evaluated_total",
			Help:      "Predicate evaluations performed by filter passes.",
		}),
		flips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facets",
			Name:      "inclusion_flips_total",
			Help:      "Records whose inclusion state changed.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facets",
			Name:      "aggregate_updates_total",
			Help:      "Accumulator updates applied to aggregates.",
		}),
		predicateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "facets",
			Name:      "predicate_failures_total",
			Help:      "Predicate evaluations that failed with an error or panic.",
		}),
		includedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "facets",
			Name:      "included_records",
			Help:      "Records currently passing every active filter.",
		}),
		liveRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "facets",
			Name:      "records",
			Help:      "Records currently in the dataset.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.passes,
		m.evaluations,
		m.flips,
		m.updates,
		m.predicateErrors,
		m.includedRecords,
		m.liveRecords,
	}
}

func (m *Metrics) passCompleted(kind string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordsEvaluated(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evaluations.Add(float64(n))
}

func (m *Metrics) inclusionFlip() {
	if m == nil {
		return
	}
	m.flips.Inc()
}

func (m *Metrics) aggregateUpdate() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

func (m *Metrics) predicateFailure() {
	if m == nil {
		return
	}
	m.predicateErrors.Inc()
}

func (m *Metrics) setRecords(live, included int) {
	if m == nil {
		return
	}
	m.liveRecords.Set(float64(live))
	m.includedRecords.Set(float64(included))
}
