// Package metrics holds medauth's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can run without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medauth"

// Metrics is the set of collectors registered by New.
type Metrics struct {
	registry *prometheus.Registry

	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	logouts       prometheus.Counter
	otpRequests   *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	markedOffline prometheus.Counter
	purged        prometheus.Counter
	wsConnections prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New creates a registry with the process and Go collectors plus medauth's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logins_total",
			Help: "Login attempts by requested role and result.",
		}, []string{"role", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_total",
			Help: "Refresh-token rotations by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logouts_total",
			Help: "Successful logouts.",
		}),
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "otp_total",
			Help: "Password-reset OTP steps by stage and result.",
		}, []string{"stage", "result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "sweeps_total",
			Help: "Inactivity sweeps by result.",
		}, []string{"result"}),
		markedOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "marked_offline_total",
			Help: "Users flipped offline by the inactivity sweeper.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "sessions_purged_total",
			Help: "Expired session rows removed by the sweeper.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Open notification sockets.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.logins, m.refreshes, m.logouts, m.otpRequests,
		m.sweeps, m.markedOffline, m.purged, m.wsConnections, m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Login(role, result string) {
	if m != nil {
		m.logins.WithLabelValues(role, result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Logout() {
	if m != nil {
		m.logouts.Inc()
	}
}

func (m *Metrics) OTP(stage, result string) {
	if m != nil {
		m.otpRequests.WithLabelValues(stage, result).Inc()
	}
}

func (m *Metrics) Sweep(result string, flipped, purged int64) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	if flipped > 0 {
		m.markedOffline.Add(float64(flipped))
	}
	if purged > 0 {
		m.purged.Add(float64(purged))
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

// HTTPRequest records one request; status is bucketed to its class ("2xx").
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	class := "other"
	if status >= 100 && status < 600 {
		class = string(rune('0'+status/100)) + "xx"
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
}
