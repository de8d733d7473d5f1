package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeNoToken = "no_token"
)

// Metrics counts refresh activity. A nil *Metrics records nothing.
type Metrics struct {
	refreshes *prometheus.CounterVec
	waiters   prometheus.Counter
	replays   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refresh_total",
				Help: "Refresh token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		waiters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refresh_waiters_total",
				Help: "Requests queued behind an in-flight refresh",
			},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_request_replays_total",
				Help: "Requests replayed after a refresh, by final status class",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.refreshes, m.waiters, m.replays)
	}
	return m
}

func (m *Metrics) refreshed(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) waiterQueued() {
	if m == nil {
		return
	}
	m.waiters.Inc()
}

func (m *Metrics) replayed(status string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(status).Inc()
}
