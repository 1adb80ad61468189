// Package metrics exposes prometheus collectors for scenario execution
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/gameprobe/pkg/models"
)

const namespace = "gameprobe"

// Metrics implements runner.Observer and records scenario outcomes
type Metrics struct {
	registry *prometheus.Registry
	inFlight sync.Map

	scenariosRunning prometheus.Gauge
	scenariosTotal   *prometheus.CounterVec
	scenarioDuration *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	RunsTotal        prometheus.Counter
	rateLimitedTotal prometheus.Counter
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		scenariosRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenarios_running",
			Help:      "Scenarios currently executing.",
		}),
		scenariosTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Finished scenarios by suite and terminal status.",
		}, []string{"suite", "status"}),
		scenarioDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenario_duration_seconds",
			Help:      "Scenario execution time by kind.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open browser sessions.",
		}),
		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs started.",
		}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_rate_limited_total",
			Help:      "API requests rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) ScenarioStarted(runID string, result models.Result) {
	m.inFlight.Store(key(runID, result), struct{}{})
	m.scenariosRunning.Inc()
}

func (m *Metrics) ScenarioFinished(runID string, result models.Result) {
	// Scenarios skipped for lack of a session were never started
	if _, ok := m.inFlight.LoadAndDelete(key(runID, result)); ok {
		m.scenariosRunning.Dec()
	}
	m.scenariosTotal.WithLabelValues(result.Suite, string(result.Status)).Inc()
	kind := result.Kind
	if kind == "" {
		kind = "custom"
	}
	m.scenarioDuration.WithLabelValues(kind).Observe(float64(result.DurationMs) / 1000)
}

func key(runID string, result models.Result) string {
	return runID + "/" + result.Suite + "/" + result.Scenario
}

// RateLimited counts a rejected API request
func (m *Metrics) RateLimited() {
	m.rateLimitedTotal.Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
