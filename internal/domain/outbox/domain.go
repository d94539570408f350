package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

type Kind int

const (
	KindAlertRaised Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindAlertRaised:
		return "alert_raised"
	default:
		return "unknown"
	}
}

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Traceparent    string
	Tracestate     string
	Baggage        string
}

type Writer interface {
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error
}

type Repository interface {
	Writer

	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	// Touch renews the in-progress lease of keys still IN_PROGRESS so they are
	// not re-picked while they wait their turn in a batch.
	Touch(ctx context.Context, keys []string) error

	MarkSuccess(ctx context.Context, keys []string) error
	// MarkFailed is terminal: failed messages are never picked again.
	MarkFailed(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
