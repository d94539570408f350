package kafka

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Producer publishes protobuf messages to one topic. Messages with the same
// key land on the same partition.
type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
		log:   obs.Component(log, "kafka.producer").With(zap.String("topic", topic)),
	}
}

func (p *Producer) PublishProto(ctx context.Context, key []byte, m proto.Message) error {
	value, err := proto.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p.topic, err)
	}

	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	var hdrs []kafka.Header
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{&hdrs})

	if err := p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Headers: hdrs}); err != nil {
		obs.SpanError(span, err)
		mMessages.WithLabelValues(p.topic, "out", "error").Inc()
		obs.WithTrace(ctx, p.log).Warn("publish failed", zap.Error(err))
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	mMessages.WithLabelValues(p.topic, "out", "ok").Inc()
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
