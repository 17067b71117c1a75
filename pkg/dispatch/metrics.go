package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_dispatch_total",
		Help: "Dispatch outcomes by result.",
	}, []string{"result"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_dispatch_duration_seconds",
		Help:    "End-to-end dispatch latency including the agent invocation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	batchRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_batch_records_total",
		Help: "Stream records processed by outcome.",
	}, []string{"outcome"})

	queueDepth = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chatrelay_dispatch_queue_depth",
		Help: "Current number of queued dispatch ops.",
	}, func() float64 {
		q := currentQueue()
		if q == nil {
			return 0
		}
		return float64(q.Len())
	})
)

var metricsQueue struct {
	mu sync.Mutex
	q  *Queue
}

func registerQueue(q *Queue) {
	metricsQueue.mu.Lock()
	metricsQueue.q = q
	metricsQueue.mu.Unlock()
}

func currentQueue() *Queue {
	metricsQueue.mu.Lock()
	defer metricsQueue.mu.Unlock()
	return metricsQueue.q
}
