// Package metrics holds the Prometheus collectors of the lifecycle engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	Transitions    *prometheus.CounterVec
	SchedulerFires *prometheus.CounterVec
	Unlocks        *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg: reg,
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "event_transitions_total",
			Help: "Event state transitions by target status and outcome.",
		}, []string{"to", "outcome"}),
		SchedulerFires: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_job_fires_total",
			Help: "Scheduled job executions by transition and outcome.",
		}, []string{"transition", "outcome"}),
		Unlocks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hardware_unlocks_total",
			Help: "Unlock requests by hardware kind and outcome.",
		}, []string{"kind", "outcome"}),
		Notifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
