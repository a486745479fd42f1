package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for session lifecycle.
// All methods are nil-safe so tests can run without a registry.
type Metrics struct {
	activeSessions    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	resumesTotal      prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	closesTotal       *prometheus.CounterVec
}

// NewMetrics registers the gateway metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_sessions",
			Help:      "Number of active gateway sessions",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "sessions_total",
			Help:      "Total sessions established since process start",
		}),

		resumesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "resumes_total",
			Help:      "Total sessions successfully resumed",
		}),

		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "heartbeat_timeouts_total",
			Help:      "Total sessions killed for missing their heartbeat deadline",
		}),

		closesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "session_closes_total",
			Help:      "Total session closes by close reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionResumed() {
	if m == nil {
		return
	}
	m.resumesTotal.Inc()
}

func (m *Metrics) sessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.closesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) heartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}
