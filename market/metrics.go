package market

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bidsPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Name:      "bids_placed_total",
		Help:      "Number of placeBid calls partitioned by result",
	}, []string{"result"})

	bidResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Name:      "bid_responses_total",
		Help:      "Number of respondToBid calls partitioned by action and result",
	}, []string{"action", "result"})

	cropTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Name:      "crop_transitions_total",
		Help:      "Number of committed crop status transitions",
	}, []string{"to"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mandi",
		Name:      "core_operation_duration_seconds",
		Help:      "Latency of core marketplace operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})
)

func observeDuration(operation string, start time.Time) {
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// resultLabel 把錯誤轉成 metrics 的 result 標籤
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
