package notifier

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"golang.org/x/time/rate"
)

var _ notification.Sender = (*Throttled)(nil)

// Throttled caps the send rate of the wrapped sender. Send waits for a token
// and fails only when ctx ends first.
type Throttled struct {
	next    notification.Sender
	limiter *rate.Limiter
}

func NewThrottled(next notification.Sender, perSecond float64, burst int) *Throttled {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Channel() string { return t.next.Channel() }

func (t *Throttled) Send(ctx context.Context, to, subject, body string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limit: %w", err)
	}
	return t.next.Send(ctx, to, subject, body)
}
