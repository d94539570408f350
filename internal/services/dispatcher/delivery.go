package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	intoutbox "github.com/NordCoder/Sentinel/internal/outbox"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_alert_attempts_total", Help: "Alert delivery attempts by result.",
}, []string{"channel", "result"})

// Delivery performs one delivery attempt per call. Retries are driven by the
// policy the outbox wraps it with.
type Delivery struct {
	log    *zap.Logger
	alerts alert.Repo
	sender notification.Sender
	clock  notification.Clock
}

func NewDelivery(log *zap.Logger, alerts alert.Repo, sender notification.Sender, clock notification.Clock) *Delivery {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	return &Delivery{log: obs.Component(log, "dispatcher.delivery"), alerts: alerts, sender: sender, clock: clock}
}

// Handle records the alert and sends it. The record is best-effort: its
// failure neither blocks nor fails the send.
func (d *Delivery) Handle(ctx context.Context, data []byte) error {
	var p alert.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal alert payload: %w", err))
	}
	log := obs.WithTrace(ctx, d.log).With(
		zap.String("endpoint_id", p.EndpointID.String()),
		zap.String("reason", string(p.Reason)),
	)

	rec := &alert.Alert{
		EndpointID:  p.EndpointID,
		TriggeredAt: d.clock.Now(),
		Message:     p.Message,
		Channel:     d.sender.Channel(),
	}
	if err := d.alerts.Create(ctx, rec); err != nil {
		log.Warn("store alert record", zap.Error(err))
	}

	if err := d.sender.Send(ctx, p.Recipient, p.Subject, p.Message); err != nil {
		mAttempts.WithLabelValues(d.sender.Channel(), "error").Inc()
		return fmt.Errorf("send via %s: %w", d.sender.Channel(), err)
	}
	mAttempts.WithLabelValues(d.sender.Channel(), "ok").Inc()
	log.Debug("alert delivered", zap.String("to", p.Recipient))
	return nil
}

// Handlers wires the delivery into an outbox dispatch table under pol.
func (d *Delivery) Handlers(pol retry.Policy) outbox.GlobalHandler {
	return intoutbox.MakeGlobalHandler(map[outbox.Kind]outbox.KindHandler{
		outbox.KindAlertRaised: d.Handle,
	}, pol)
}
