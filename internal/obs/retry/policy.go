package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type PolicyConfig struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      float64
}

// LoggedPolicy builds an exponential policy that reports every failed attempt
// at warn and exhaustion at error.
func LoggedPolicy(name string, cfg PolicyConfig, log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("retry", name))
	return Policy{
		Name:     name,
		Attempts: cfg.Attempts,
		Backoff:  ExpoJitter{Base: cfg.BaseBackoff, Max: cfg.MaxBackoff, Jitter: cfg.Jitter},
		OnAttempt: func(i int, err error) {
			log.Warn("attempt failed", zap.Int("attempt", i+1), zap.Int("max_attempts", cfg.Attempts), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("retries exhausted", zap.Int("max_attempts", cfg.Attempts), zap.Error(err))
			}
		},
	}
}
