package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	registered        prometheus.Gauge
	authAttempts      *prometheus.CounterVec
	superseded        prometheus.Counter
	messages          *prometheus.CounterVec
	malformed         prometheus.Counter
	forwards          *prometheus.CounterVec
	routeLatency      *prometheus.HistogramVec
	sinkDropped       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iotrelay_connections_active",
			Help: "Open WebSocket connections, registered or not.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotrelay_connections_total",
			Help: "WebSocket connections accepted since start.",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iotrelay_registered_identifiers",
			Help: "Identifiers currently present in the registry.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotrelay_auth_attempts_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotrelay_connections_superseded_total",
			Help: "Connections closed because a newer one registered under the same identifier.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotrelay_messages_total",
			Help: "Inbound messages from registered connections by kind.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotrelay_messages_malformed_total",
			Help: "Inbound frames that were not JSON objects.",
		}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotrelay_forwards_total",
			Help: "Forwarding attempts by message kind and result.",
		}, []string{"kind", "result"}),
		routeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iotrelay_route_duration_seconds",
			Help:    "Time spent routing one inbound message.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"kind"}),
		sinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iotrelay_sink_dropped_total",
			Help: "Telemetry messages dropped because a sink queue was full.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.registered,
		m.authAttempts,
		m.superseded,
		m.messages,
		m.malformed,
		m.forwards,
		m.routeLatency,
		m.sinkDropped,
	)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}

func (m *Metrics) recordAuth(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) recordSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

func (m *Metrics) recordMessage(kind Kind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) recordForward(kind Kind, result string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(kind.String(), result).Inc()
}

func (m *Metrics) observeRoute(kind Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.routeLatency.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) recordSinkDropped(sink string) {
	if m == nil {
		return
	}
	m.sinkDropped.WithLabelValues(sink).Inc()
}

// Forward results used as metric labels.
const (
	forwardDelivered = "delivered"
	forwardOffline   = "offline"
	forwardFailed    = "failed"
)

// Auth results used as metric labels.
const (
	authAuthorized   = "authorized"
	authUnauthorized = "unauthorized"
	authUnavailable  = "unavailable"
)
