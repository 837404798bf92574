package asyncreq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for request lifecycle events. A nil
// *Metrics records nothing.
type Metrics struct {
	submittedTotal prometheus.Counter
	completedTotal *prometheus.CounterVec
	cancelledTotal prometheus.Counter
	discardedTotal prometheus.Counter
	inFlight       prometheus.Gauge
}

// MustNewMetrics constructs and registers the collectors. Registration
// errors panic, mirroring promauto, so duplicate wiring surfaces early.
// Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "async",
			Name:      "requests_submitted_total",
			Help:      "Async requests submitted by tasks.",
		}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "async",
			Name:      "requests_completed_total",
			Help:      "Async requests whose result was published.",
		}, []string{"outcome"}),
		cancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "async",
			Name:      "requests_cancelled_total",
			Help:      "Async requests cancelled while still pending.",
		}),
		discardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "async",
			Name:      "results_discarded_total",
			Help:      "Results computed after their request was cancelled.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Subsystem: "async",
			Name:      "requests_in_flight",
			Help:      "Entries currently held in the request table.",
		}),
	}
	reg.MustRegister(m.submittedTotal, m.completedTotal, m.cancelledTotal, m.discardedTotal, m.inFlight)
	return m
}

func (m *Metrics) submitted() {
	if m != nil {
		m.submittedTotal.Inc()
	}
}

func (m *Metrics) completed(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.completedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) cancelled() {
	if m != nil {
		m.cancelledTotal.Inc()
	}
}

func (m *Metrics) discarded() {
	if m != nil {
		m.discardedTotal.Inc()
	}
}

func (m *Metrics) setInFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}
