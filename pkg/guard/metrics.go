package guard

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the guard's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_guard_decisions_total",
			Help: "Navigations seen by the route guard, by path class and action.",
		}, []string{"class", "action"}),
	}
	reg.MustRegister(m.decisions)
	return m
}

func (m *Metrics) observe(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(d.Class.String(), d.Action.String()).Inc()
}
