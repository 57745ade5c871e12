package deploy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/buildor/internal/domain"
)

// Metrics counts lifecycle results. A nil *Metrics records nothing.
type Metrics struct {
	events   *prometheus.CounterVec
	triggers *prometheus.CounterVec
	casRetry prometheus.Counter
}

// NewMetrics registers the lifecycle collectors, reusing any already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildor",
			Subsystem: "reconciler",
			Name:      "build_events_total",
			Help:      "Build events processed by outcome",
		}, []string{"outcome"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildor",
			Subsystem: "intake",
			Name:      "deployments_triggered_total",
			Help:      "Deployment trigger attempts by result",
		}, []string{"result"}),
		casRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildor",
			Subsystem: "reconciler",
			Name:      "conditional_write_conflicts_total",
			Help:      "Conditional writes rejected and re-evaluated",
		}),
	}
	if reg == nil {
		return m
	}
	for _, collector := range []prometheus.Collector{m.events, m.triggers, m.casRetry} {
		if err := reg.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					if collector == m.events {
						m.events = v
					} else if collector == m.triggers {
						m.triggers = v
					}
				case prometheus.Counter:
					m.casRetry = v
				}
			}
		}
	}
	return m
}

func (m *Metrics) observeEvent(outcome domain.Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeTrigger(result string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(result).Inc()
}

func (m *Metrics) observeConflict() {
	if m == nil {
		return
	}
	m.casRetry.Inc()
}
