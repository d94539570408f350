package queue

import (
	"context"

	"github.com/NordCoder/Sentinel/internal/domain/kafka"
	"github.com/NordCoder/Sentinel/internal/domain/task"
)

// Transport moves a claimed check to whoever runs it.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, c task.Claim) error
}

var (
	_ Transport = (*WorkerPool)(nil)
	_ Transport = (*KafkaTransport)(nil)
)

// KafkaTransport publishes claims so every engine process in the consumer
// group shares the work.
type KafkaTransport struct {
	events kafka.CheckEvents
}

func NewKafkaTransport(events kafka.CheckEvents) *KafkaTransport {
	return &KafkaTransport{events: events}
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Deliver(ctx context.Context, c task.Claim) error {
	return t.events.PublishCheckDue(ctx, c)
}
