package notifier

import (
	"context"

	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.uber.org/zap"
)

var _ notification.Sender = (*LogSender)(nil)

// LogSender only writes the notification to the log.
type LogSender struct{ log *zap.Logger }

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: obs.Component(log, "notifier.log")}
}

func (s *LogSender) Channel() string { return "log" }

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	obs.WithTrace(ctx, s.log).Warn("alert",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}
