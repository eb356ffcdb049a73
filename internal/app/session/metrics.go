package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks session lifecycle counters and current resource gauges.
type Metrics struct {
	joins         prometheus.Counter
	joinFailures  prometheus.Counter
	producers     prometheus.Gauge
	consumers     prometheus.Gauge
	remoteStreams prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetclient_joins_total",
			Help: "Completed room joins.",
		}),
		joinFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetclient_join_failures_total",
			Help: "Room joins aborted by an error.",
		}),
		producers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetclient_producers",
			Help: "Locally published tracks.",
		}),
		consumers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetclient_consumers",
			Help: "Active subscriptions to remote tracks.",
		}),
		remoteStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetclient_remote_streams",
			Help: "Aggregated remote peer streams.",
		}),
	}
}
