package notifier

import (
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"go.uber.org/zap"
)

type Config struct {
	Channel       string
	RatePerSecond float64
	Burst         int
	SMTP          SMTPConfig
	Webhook       WebhookConfig
}

// New builds the configured channel wrapped in a rate limiter.
func New(cfg Config, log *zap.Logger) (notification.Sender, error) {
	var s notification.Sender
	switch cfg.Channel {
	case "smtp":
		s = NewMailer(cfg.SMTP, log)
	case "webhook":
		if cfg.Webhook.URL == "" {
			return nil, fmt.Errorf("webhook channel: empty url")
		}
		s = NewWebhook(cfg.Webhook)
	case "log", "":
		s = NewLogSender(log)
	default:
		return nil, fmt.Errorf("unknown notification channel %q", cfg.Channel)
	}
	return NewThrottled(s, cfg.RatePerSecond, cfg.Burst), nil
}
