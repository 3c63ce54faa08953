// Package metrics exposes door, light and automation counters for
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coop-door-controller/internal/automation"
	"coop-door-controller/internal/door"
)

const namespace = "coopdoor"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	doorState        *prometheus.GaugeVec
	actuationsTotal  *prometheus.CounterVec
	actuationSeconds *prometheus.HistogramVec
	limitMissedTotal prometheus.Counter
	poisoned         prometheus.Gauge
	lightLevel       prometheus.Gauge
	lightErrorsTotal prometheus.Counter
	ticksTotal       *prometheus.CounterVec
	settingsReloads  *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		doorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "door_state",
			Help:      "1 for the current door state, 0 for the others",
		}, []string{"state"}),
		actuationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Door requests that reached the actuator, by action and outcome",
		}, []string{"action", "outcome"}),
		actuationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "actuation_duration_seconds",
			Help:      "Duration of door sequences",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 5, 6, 8, 10},
		}, []string{"action"}),
		limitMissedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_switch_missed_total",
			Help:      "Open sequences that timed out without seeing the limit switch",
		}),
		poisoned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_poisoned",
			Help:      "1 when the door controller refuses requests after a failed sequence",
		}),
		lightLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "light_level_percent",
			Help:      "Last ambient light reading",
		}),
		lightErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "light_read_errors_total",
			Help:      "Failed light sensor readings",
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_ticks_total",
			Help:      "Automation evaluations by decision",
		}, []string{"decision"}),
		settingsReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_reloads_total",
			Help:      "Settings file reloads by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.doorState,
		m.actuationsTotal,
		m.actuationSeconds,
		m.limitMissedTotal,
		m.poisoned,
		m.lightLevel,
		m.lightErrorsTotal,
		m.ticksTotal,
		m.settingsReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.SetDoorState(door.Closed)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetDoorState marks state as current.
func (m *Metrics) SetDoorState(state door.State) {
	for _, s := range []door.State{door.Closed, door.Closing, door.Open, door.Opening} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.doorState.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveReport records one actuation.
func (m *Metrics) ObserveReport(r door.Report) {
	m.actuationsTotal.WithLabelValues(string(r.Action), r.Outcome.String()).Inc()
	if r.Outcome == door.Actuated {
		m.actuationSeconds.WithLabelValues(string(r.Action)).Observe(r.Duration.Seconds())
		if r.Action == door.ActionOpen && !r.LimitReached {
			m.limitMissedTotal.Inc()
		}
	}
}

// SetPoisoned records whether the controller is poisoned.
func (m *Metrics) SetPoisoned(poisoned bool) {
	if poisoned {
		m.poisoned.Set(1)
		return
	}
	m.poisoned.Set(0)
}

// ObserveLight records a light reading or its failure.
func (m *Metrics) ObserveLight(level float64, err error) {
	if err != nil {
		m.lightErrorsTotal.Inc()
		return
	}
	m.lightLevel.Set(level)
}

// ObserveTick records one automation evaluation. Ticks skipped by a
// sensor failure are counted as "skipped".
func (m *Metrics) ObserveTick(r automation.TickReport) {
	if r.Err != "" && !r.Requested {
		m.ticksTotal.WithLabelValues("skipped").Inc()
		return
	}
	m.ticksTotal.WithLabelValues(r.Decision.String()).Inc()
}

// ObserveReload records a settings reload attempt.
func (m *Metrics) ObserveReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.settingsReloads.WithLabelValues(result).Inc()
}
