package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus metric bundle for one Instance. All methods are
// safe on a nil receiver so instrumentation points never have to check for
// a disabled bundle.
type Metrics struct {
	// AcceptedTotal counts accepted connections per port.
	AcceptedTotal *prometheus.CounterVec

	// AcceptErrorsTotal counts transient accept failures per port. The
	// operation-aborted completion produced by closing a port is the normal
	// shutdown path and is never counted here.
	AcceptErrorsTotal *prometheus.CounterVec

	// OpenPorts tracks the number of currently listening ports.
	OpenPorts prometheus.Gauge

	// ActiveConnections tracks connections currently owned by handlers.
	ActiveConnections prometheus.Gauge

	// HandshakeErrorsTotal counts failed protocol handshakes.
	HandshakeErrorsTotal prometheus.Counter

	// MessagesEchoedTotal counts messages echoed back to peers.
	MessagesEchoedTotal prometheus.Counter

	// BytesEchoedTotal counts payload bytes echoed back to peers.
	BytesEchoedTotal prometheus.Counter
}

// NewMetrics registers and returns the metric bundle. Pass a fresh registry
// in tests to keep them isolated from the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AcceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portecho",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections per port.",
		}, []string{"port"}),

		AcceptErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portecho",
			Name:      "accept_errors_total",
			Help:      "Total number of transient accept failures per port.",
		}, []string{"port"}),

		OpenPorts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portecho",
			Name:      "open_ports",
			Help:      "Number of currently listening ports.",
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portecho",
			Name:      "active_connections",
			Help:      "Number of connections currently owned by handlers.",
		}),

		HandshakeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portecho",
			Name:      "handshake_errors_total",
			Help:      "Total number of failed WebSocket handshakes.",
		}),

		MessagesEchoedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portecho",
			Name:      "messages_echoed_total",
			Help:      "Total number of messages echoed back to peers.",
		}),

		BytesEchoedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portecho",
			Name:      "bytes_echoed_total",
			Help:      "Total payload bytes echoed back to peers.",
		}),
	}
}

// ConnAccepted records an accepted connection on the named port.
func (m *Metrics) ConnAccepted(port string) {
	if m == nil {
		return
	}
	m.AcceptedTotal.WithLabelValues(port).Inc()
	m.ActiveConnections.Inc()
}

// ConnClosed records a handler releasing its connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// AcceptError records a transient accept failure on the named port.
func (m *Metrics) AcceptError(port string) {
	if m == nil {
		return
	}
	m.AcceptErrorsTotal.WithLabelValues(port).Inc()
}

// PortOpened records a port entering the listening state.
func (m *Metrics) PortOpened() {
	if m == nil {
		return
	}
	m.OpenPorts.Inc()
}

// PortClosed records a port leaving the listening state.
func (m *Metrics) PortClosed() {
	if m == nil {
		return
	}
	m.OpenPorts.Dec()
}

// HandshakeError records a failed protocol handshake.
func (m *Metrics) HandshakeError() {
	if m == nil {
		return
	}
	m.HandshakeErrorsTotal.Inc()
}

// MessageEchoed records one echoed message of n payload bytes.
func (m *Metrics) MessageEchoed(n int) {
	if m == nil {
		return
	}
	m.MessagesEchoedTotal.Inc()
	m.BytesEchoedTotal.Add(float64(n))
}
