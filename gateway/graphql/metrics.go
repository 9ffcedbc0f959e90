package graphql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/patseev/caliban/metric"
)

// metrics holds the gateway's Prometheus instruments. A nil *metrics is
// valid and all methods are no-ops, so metrics stay optional.
type metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	operationsActive  prometheus.Gauge
	operationsTotal   *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *metrics {
	if registry == nil {
		return nil
	}

	m := &metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Currently open WebSocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "messages_received_total",
			Help:      "Client protocol messages received by type",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Server protocol frames sent by type",
		}, []string{"type"}),
		operationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "operations_active",
			Help:      "Live streaming operations across all connections",
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Operations started by kind",
		}, []string{"kind"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caliban",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Errors by stage",
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.messagesReceived,
		m.framesSent,
		m.operationsActive,
		m.operationsTotal,
		m.errorsTotal,
	)

	return m
}

func (m *metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *metrics) messageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *metrics) frameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *metrics) operationStarted(kind string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(kind).Inc()
	if kind == "stream" {
		m.operationsActive.Inc()
	}
}

func (m *metrics) operationEnded() {
	if m == nil {
		return
	}
	m.operationsActive.Dec()
}

func (m *metrics) errored(stage string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(stage).Inc()
}
