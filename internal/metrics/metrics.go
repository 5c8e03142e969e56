package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IssuesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlgw_issues_published_total",
			Help: "Newsletter issues accepted for delivery (replays excluded)",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlgw_deliveries_total",
			Help: "Delivery task attempts by outcome",
		},
		[]string{"outcome"}, // sent | retried | dead_lettered | skipped
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlgw_delivery_queue_depth",
			Help: "Live rows in the delivery queue, including tasks in backoff",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		IssuesPublishedTotal,
		DeliveriesTotal,
		QueueDepth,
	)
}
