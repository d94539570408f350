package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_queue_claimed_total", Help: "Due checks claimed from the substrate.",
	})
	mDeliverErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_queue_deliver_errors_total", Help: "Claimed checks that could not be handed to a worker.",
	}, []string{"transport"})
	mReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_queue_released_total", Help: "Claims put back to pending.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "sentinel_queue_tick_duration_seconds", Help: "Claimer tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_pool_inflight", Help: "Check cycles currently running.",
	})
	mPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_pool_panics_total", Help: "Check cycles that panicked.",
	})
)
