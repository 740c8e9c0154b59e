// Package metrics registers the Prometheus collectors for the ambient
// observability surface SPEC_FULL.md adds on top of spec.md: relay
// state, heartbeat failures, alert sends, and sensor read errors. It is
// grounded on the retrieved prometheus/client_golang examples' pattern
// of constructing collectors once at startup: the resulting *Metrics
// handle is passed into each component's constructor, and its Registry
// into the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the core components report through.
type Metrics struct {
	RelayOn          *prometheus.GaugeVec
	HeartbeatFailure *prometheus.CounterVec
	AlertSends       *prometheus.CounterVec
	SensorReadErrors *prometheus.CounterVec
}

// New creates and registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RelayOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "greenhouse",
			Subsystem: "relay",
			Name:      "physically_on",
			Help:      "1 if the relay is physically energized, 0 otherwise.",
		}, []string{"relay"}),
		HeartbeatFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "heartbeat",
			Name:      "failures_total",
			Help:      "Total heartbeat expiries per registered task.",
		}, []string{"task"}),
		AlertSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "alert",
			Name:      "sends_total",
			Help:      "Total alert/report sends, labeled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SensorReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greenhouse",
			Subsystem: "sensor",
			Name:      "read_errors_total",
			Help:      "Total sensor read failures per sensor family.",
		}, []string{"sensor"}),
	}

	reg.MustRegister(m.RelayOn, m.HeartbeatFailure, m.AlertSends, m.SensorReadErrors)
	return m
}

// RelayStateChanged implements relay.Observer.
func (m *Metrics) RelayStateChanged(name string, physicalOn bool) {
	v := 0.0
	if physicalOn {
		v = 1.0
	}
	m.RelayOn.WithLabelValues(name).Set(v)
}

// AlertSent implements alert.Metrics.
func (m *Metrics) AlertSent(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	m.AlertSends.WithLabelValues(kind, outcome).Inc()
}

// HeartbeatFailed records one heartbeat expiry for tag. It matches the
// signature heartbeat.Supervisor.OnFailure expects, so it can be passed
// directly: sup.OnFailure(m.HeartbeatFailed).
func (m *Metrics) HeartbeatFailed(tag string, failureCount uint8) {
	m.HeartbeatFailure.WithLabelValues(tag).Inc()
}

// SensorReadError records one read failure for sensor.
func (m *Metrics) SensorReadError(sensor string) {
	m.SensorReadErrors.WithLabelValues(sensor).Inc()
}
