package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	mHandlerDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_outbox_handler_duration_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	mHandlerErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

// instrument runs h under pol. Every call of h is one delivery attempt.
func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func(attempt int) error {
			span.SetAttributes(attribute.Int("outbox.attempt", attempt+1))
			return h(ctx, data)
		}, pol)
		mHandlerDur.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			mHandlerErr.WithLabelValues(kind).Inc()
		}
		return err
	}
}

// MakeGlobalHandler routes kinds to their handlers, each wrapped with pol.
func MakeGlobalHandler(handlers map[outbox.Kind]outbox.KindHandler, pol retry.Policy) outbox.GlobalHandler {
	wrapped := make(map[outbox.Kind]outbox.KindHandler, len(handlers))
	for k, h := range handlers {
		wrapped[k] = instrument(k.String(), h, pol)
	}
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := wrapped[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		return h, nil
	}
}
