// Package metrics exposes gateway counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Sessions       *prometheus.CounterVec // sessions opened, by class
	ActiveSessions *prometheus.GaugeVec   // sessions currently open, by class
	DeviceFrames   *prometheus.CounterVec // device frames, by outcome
	Logins         *prometheus.CounterVec // operator logins, by outcome
	Latency        *prometheus.HistogramVec
}

// New registers the gateway collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thermogate",
			Name:      "sessions_total",
			Help:      "Connections opened, by classification.",
		}, []string{"class"}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "thermogate",
			Name:      "sessions_active",
			Help:      "Connections currently open, by classification.",
		}, []string{"class"}),
		DeviceFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thermogate",
			Name:      "device_frames_total",
			Help:      "Device telemetry frames, by outcome.",
		}, []string{"outcome"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thermogate",
			Name:      "operator_logins_total",
			Help:      "Operator login attempts, by outcome.",
		}, []string{"outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "thermogate",
			Name:      "message_seconds",
			Help:      "Time spent handling one inbound message, by classification.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class"}),
	}
	reg.MustRegister(m.Sessions, m.ActiveSessions, m.DeviceFrames, m.Logins, m.Latency)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened(class string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(class).Inc()
	m.ActiveSessions.WithLabelValues(class).Inc()
}

func (m *Metrics) SessionClosed(class string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(class).Dec()
}

func (m *Metrics) DeviceFrame(outcome string) {
	if m == nil {
		return
	}
	m.DeviceFrames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Observe(class string, seconds float64) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(class).Observe(seconds)
}
