package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daniacca/membranedb/internal/psystem"
)

// metrics holds the server's prometheus collectors on a private registry.
type metrics struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	firings      *prometheus.CounterVec
	dissolutions *prometheus.CounterVec
	halts        *prometheus.CounterVec
	environments prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membranedb",
			Name:      "steps_total",
			Help:      "Simulation steps executed, by environment.",
		}, []string{"env"}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membranedb",
			Name:      "rule_firings_total",
			Help:      "Rule applications, by environment.",
		}, []string{"env"}),
		dissolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membranedb",
			Name:      "dissolutions_total",
			Help:      "Membranes dissolved, by environment.",
		}, []string{"env"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membranedb",
			Name:      "halts_total",
			Help:      "Steps that left the environment halted.",
		}, []string{"env"}),
		environments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "membranedb",
			Name:      "environments",
			Help:      "Environments currently registered.",
		}),
	}
	m.registry.MustRegister(m.steps, m.firings, m.dissolutions, m.halts, m.environments)
	return m
}

// observeStep is installed as every environment's step observer.
func (m *metrics) observeStep(id psystem.EnvironmentID, report psystem.StepReport, halted bool) {
	env := string(id)
	m.steps.WithLabelValues(env).Inc()
	m.firings.WithLabelValues(env).Add(float64(report.Fired()))
	m.dissolutions.WithLabelValues(env).Add(float64(len(report.Dissolved)))
	if halted {
		m.halts.WithLabelValues(env).Inc()
	}
}

func (m *metrics) forget(id psystem.EnvironmentID) {
	for _, vec := range []*prometheus.CounterVec{m.steps, m.firings, m.dissolutions, m.halts} {
		vec.DeleteLabelValues(string(id))
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
