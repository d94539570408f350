package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var mMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_kafka_messages_total",
	Help: "Kafka messages by topic, direction and result.",
}, []string{"topic", "direction", "result"})

const (
	fetchBackoffMin = 200 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
)

// Handler processes one message. A non-nil error leaves the offset uncommitted.
type Handler func(ctx context.Context, key, value []byte) error

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
}

// Consumer reads one topic as a member of a consumer group and commits
// offsets only for messages the handler accepted.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	log    *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, log *zap.Logger) *Consumer {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,
		MinBytes:              1,
		MaxBytes:              1 << 20,
		MaxWait:               time.Second,
		SessionTimeout:        10 * time.Second,
		RebalanceTimeout:      15 * time.Second,
		HeartbeatInterval:     3 * time.Second,
	})
	return &Consumer{
		reader: r,
		topic:  cfg.Topic,
		log: obs.Component(log, "kafka.consumer").With(
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.GroupID),
		),
	}
}

// Consume blocks until ctx is done. Fetch errors back off exponentially.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	backoff := fetchBackoffMin
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return ctx.Err()
			}
			lvl := zap.WarnLevel
			if errors.Is(err, io.EOF) {
				lvl = zap.DebugLevel
			}
			c.log.Log(lvl, "fetch failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		if err := c.handle(ctx, msg, h); err != nil {
			mMessages.WithLabelValues(c.topic, "in", "error").Inc()
			c.log.Error("handler failed, offset not committed",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		mMessages.WithLabelValues(c.topic, "in", "ok").Inc()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle runs h under a consumer span that continues the producer's trace.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{&msg.Headers})
	ctx, span := otel.Tracer("kafka.consumer").Start(ctx, "kafka.consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingOperationReceive,
		),
	)
	defer span.End()

	err := h(ctx, msg.Key, msg.Value)
	obs.SpanError(span, err)
	return err
}

func (c *Consumer) Close() error { return c.reader.Close() }
