package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusMetrics holds the Prometheus instruments for the publish path.
type BusMetrics struct {
	publishedTotal   *prometheus.CounterVec
	droppedTotal     prometheus.Counter
	fanoutRecipients prometheus.Histogram
}

// NewBusMetrics registers the bus metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	factory := promauto.With(reg)

	return &BusMetrics{
		publishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "events_published_total",
			Help:      "Total events published to the bus by scope kind",
		}, []string{"scope"}),

		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "events_dropped_total",
			Help:      "Total events dropped from saturated session inboxes",
		}),

		fanoutRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "fanout_recipients",
			Help:      "Number of inboxes reached per publish",
			Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
		}),
	}
}

func (m *BusMetrics) observePublish(kind ScopeKind, recipients, dropped int) {
	m.publishedTotal.WithLabelValues(kind.String()).Inc()
	m.fanoutRecipients.Observe(float64(recipients))
	if dropped > 0 {
		m.droppedTotal.Add(float64(dropped))
	}
}
