package notification

import (
	"context"
	"time"
)

// Sender is a delivery channel (email, webhook, ...).
type Sender interface {
	Channel() string
	Send(ctx context.Context, to, subject, body string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
