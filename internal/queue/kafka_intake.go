package queue

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	kafkax "github.com/NordCoder/Sentinel/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mIntakeReleased = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_kafka_intake_released_total",
	Help: "CheckDue messages the pool refused, returned to the substrate.",
})

type submitter interface {
	Submit(ctx context.Context, c task.Claim) error
}

// KafkaIntake feeds CheckDue messages from the consumer group into the pool.
// A claim the pool cannot take goes back to the substrate as PENDING, so the
// offset is always committed and no check is stranded in STARTED.
type KafkaIntake struct {
	log        *zap.Logger
	cons       *kafkax.Consumer
	pool       submitter
	claimer    task.Claimer
	retryDelay time.Duration
}

func NewKafkaIntake(log *zap.Logger, cons *kafkax.Consumer, pool *WorkerPool, claimer task.Claimer, retryDelay time.Duration) *KafkaIntake {
	return &KafkaIntake{
		log:        obs.Component(log, "queue.kafka_intake"),
		cons:       cons,
		pool:       pool,
		claimer:    claimer,
		retryDelay: retryDelay,
	}
}

func (k *KafkaIntake) Run(ctx context.Context) error {
	if err := k.cons.Consume(ctx, kafkax.CheckDueHandler(k.accept)); err != nil && !errors.Is(err, context.Canceled) {
		k.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return nil
}

// accept hands c to the pool. On refusal the claim is released; only a failed
// release is reported, which leaves the offset uncommitted.
func (k *KafkaIntake) accept(ctx context.Context, c task.Claim) error {
	err := k.pool.Submit(ctx, c)
	if err == nil {
		return nil
	}
	// the release must land during shutdown too
	if rerr := k.claimer.Release(context.WithoutCancel(ctx), c.Handle, k.retryDelay); rerr != nil &&
		!errors.Is(rerr, task.ErrUnknownHandle) {
		obs.WithTrace(ctx, k.log).Error("pool refused check and release failed",
			zap.String("handle", c.Handle.String()), zap.Error(err), zap.NamedError("release_error", rerr))
		return rerr
	}
	mIntakeReleased.Inc()
	obs.WithTrace(ctx, k.log).Warn("pool refused check, released to substrate",
		zap.String("handle", c.Handle.String()), zap.Duration("retry_in", k.retryDelay), zap.Error(err))
	return nil
}
