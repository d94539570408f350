package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/google/uuid"
)

// Dispatcher hands alerts to the outbox. Delivery happens asynchronously in
// the outbox runner, so Dispatch only fails when the enqueue does.
type Dispatcher struct {
	writer outbox.Writer
}

func New(writer outbox.Writer) *Dispatcher { return &Dispatcher{writer: writer} }

// Dispatch enqueues p under a fresh key. Repeated dispatches of the same
// payload are delivered repeatedly.
func (d *Dispatcher) Dispatch(ctx context.Context, p alert.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	key := "alert:" + uuid.NewString()
	if err := d.writer.Enqueue(ctx, key, outbox.KindAlertRaised, data); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}
