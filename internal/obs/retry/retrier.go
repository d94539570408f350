package retry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var defaultBackoff = ExpoJitter{Base: 100 * time.Millisecond, Max: 5 * time.Second}

// Policy describes how Do retries. Zero values mean a single attempt, every
// error retryable and the default backoff.
type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying regardless of the policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

var (
	mAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_retry_attempts_total",
		Help: "Attempts made inside retry.Do, by policy and result.",
	}, []string{"name", "result"})
	mExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_retry_exhausted_total",
		Help: "Operations that gave up: attempts ran out or the error was permanent.",
	}, []string{"name"})
	mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_retry_duration_seconds",
		Help:    "Wall time spent inside retry.Do.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"name"})
)

// Do calls fn until it succeeds, the policy gives up or ctx ends. fn gets the
// zero-based attempt number. Cancellation while waiting returns ctx.Err().
func Do(ctx context.Context, fn func(attempt int) error, p Policy) error {
	name := p.Name
	if name == "" {
		name = "default"
	}
	start := time.Now()
	defer func() { mDuration.WithLabelValues(name).Observe(time.Since(start).Seconds()) }()

	attempts := max(p.Attempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	span := trace.SpanFromContext(ctx)

	for i := 0; ; i++ {
		err := fn(i)
		if err == nil {
			mAttempts.WithLabelValues(name, "ok").Inc()
			return nil
		}
		mAttempts.WithLabelValues(name, "error").Inc()
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		if span.IsRecording() {
			span.AddEvent("retry.attempt", trace.WithAttributes(
				attribute.String("retry.name", name),
				attribute.Int("retry.attempt", i+1),
				attribute.String("retry.error", err.Error()),
			))
		}
		if IsPermanent(err) || !retryable(err) || i+1 >= attempts {
			mExhausted.WithLabelValues(name).Inc()
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}

		t := time.NewTimer(backoff.Next(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
