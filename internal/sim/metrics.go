package sim

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeycumines/taskgraph/internal/task"
)

// Metrics exposes Prometheus collectors for a simulation. A nil *Metrics
// records nothing.
type Metrics struct {
	framesTotal  prometheus.Counter
	ticksTotal   *prometheus.CounterVec
	frameSeconds prometheus.Histogram
	agents       prometheus.Gauge
}

// MustNewMetrics constructs and registers the collectors on reg (the
// default registerer when nil).
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "sim",
			Name:      "frames_total",
			Help:      "Simulation frames stepped.",
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Subsystem: "sim",
			Name:      "agent_ticks_total",
			Help:      "Agent ticks by resulting status.",
		}, []string{"status"}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskgraph",
			Subsystem: "sim",
			Name:      "frame_duration_seconds",
			Help:      "Wall time spent ticking every agent once.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Subsystem: "sim",
			Name:      "agents",
			Help:      "Agents currently spawned.",
		}),
	}
	reg.MustRegister(m.framesTotal, m.ticksTotal, m.frameSeconds, m.agents)
	return m
}

func (m *Metrics) frame(seconds float64) {
	if m != nil {
		m.framesTotal.Inc()
		m.frameSeconds.Observe(seconds)
	}
}

func (m *Metrics) ticked(s task.Status) {
	if m != nil {
		m.ticksTotal.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) setAgents(n int) {
	if m != nil {
		m.agents.Set(float64(n))
	}
}
