package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the check topic exists before joining the
// group. A topic failure is only logged: the reader keeps retrying until the
// broker catches up.
func BootstrapConsumer(ctx context.Context, cfg ConsumerConfig, partitions int, log *zap.Logger) *Consumer {
	err := EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:              cfg.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, log)
	if err != nil && log != nil {
		log.Warn("ensure topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg, log)
}
