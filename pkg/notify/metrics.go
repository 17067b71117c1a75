package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_notify_published_total",
		Help: "Notifications published to the channel.",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_notify_dropped_total",
		Help: "Per-subscriber deliveries abandoned after the publish timeout.",
	})

	subscriberGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_notify_subscribers",
		Help: "Currently attached subscribers.",
	})
)
