package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_outbox_picked_total", Help: "Messages picked into processing.",
	})
	mOk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_outbox_processed_ok_total", Help: "Messages processed successfully.",
	})
	mFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_outbox_processed_failed_total", Help: "Messages marked FAILED after exhausting retries.",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_outbox_processed_err_total", Help: "Runner errors (pick, mark, handler).",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "sentinel_outbox_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_outbox_last_batch_size", Help: "Size of last picked batch.",
	})
)

type RunnerConfig struct {
	Workers       int
	BatchSize     int
	WaitTime      time.Duration
	InProgressTTL time.Duration
}

// Runner polls the outbox and hands messages to their kind handlers.
// A handler error is final: retries happen inside the handler.
type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      RunnerConfig

	wg sync.WaitGroup
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = time.Second
	}
	return &Runner{
		log:      obs.Component(log, "outbox.runner"),
		repo:     repo,
		dispatch: dispatch,
		cfg:      cfg,
	}
}

// Start launches the workers and returns. Wait blocks until they exit after ctx ends.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	r.log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick picks one batch and processes it. It returns the number of picked messages.
func (r *Runner) Tick(ctx context.Context) int {
	t0 := time.Now()
	defer func() { mTickDur.Observe(time.Since(t0).Seconds()) }()

	ctxSpan, span := otel.Tracer("outbox.runner").Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		obs.SpanError(span, err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return 0
	}
	mPicked.Add(float64(len(messages)))
	mBatchSize.Set(float64(len(messages)))

	// marks and lease renewals must land even when ctx was canceled mid-batch
	markCtx := context.WithoutCancel(ctxSpan)
	keys := make([]string, len(messages))
	for i, m := range messages {
		keys[i] = m.IdempotencyKey
	}

	for i, m := range messages {
		if i > 0 {
			// the lease taken by PickBatch covers one message run, not the batch
			if err := r.repo.Touch(markCtx, keys[i:]); err != nil {
				mErr.Inc()
				obs.WithTrace(ctxSpan, r.log).Warn("outbox lease renewal error", zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			// shutting down: the rest stays IN_PROGRESS and the TTL hands it to the next run
			break
		}
		if st, ok := r.process(ctx, m); ok {
			r.mark(markCtx, m.IdempotencyKey, st)
		}
	}
	return len(messages)
}

// process runs the handler for m. ok is false when the message must stay
// IN_PROGRESS because the run was interrupted by shutdown.
func (r *Runner) process(ctx context.Context, m outbox.Message) (st outbox.Status, ok bool) {
	parent := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": m.Traceparent,
		"tracestate":  m.Tracestate,
		"baggage":     m.Baggage,
	})
	msgCtx, msgSpan := otel.Tracer("outbox.runner").Start(parent, "outbox.dispatch",
		trace.WithAttributes(
			attribute.String("outbox.key", m.IdempotencyKey),
			attribute.String("outbox.kind", m.Kind.String()),
		),
	)
	defer msgSpan.End()
	log := obs.WithTrace(msgCtx, r.log).With(zap.String("key", m.IdempotencyKey), zap.Stringer("kind", m.Kind))

	handler, err := r.dispatch(m.Kind)
	if err != nil {
		obs.SpanError(msgSpan, err)
		mErr.Inc()
		log.Error("no handler for kind", zap.Error(err))
		return outbox.StatusFailed, true
	}
	if err := handler(msgCtx, m.Data); err != nil {
		obs.SpanError(msgSpan, err)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Info("handler interrupted by shutdown")
			return "", false
		}
		mErr.Inc()
		log.Error("handler failed, marking FAILED", zap.Error(err))
		return outbox.StatusFailed, true
	}
	return outbox.StatusSuccess, true
}

// mark records the final status of one message as soon as it is known, so a
// finished message is never re-picked by another worker.
func (r *Runner) mark(ctx context.Context, key string, st outbox.Status) {
	var err error
	switch st {
	case outbox.StatusSuccess:
		if err = r.repo.MarkSuccess(ctx, []string{key}); err == nil {
			mOk.Inc()
		}
	case outbox.StatusFailed:
		if err = r.repo.MarkFailed(ctx, []string{key}); err == nil {
			mFailed.Inc()
		}
	}
	if err != nil {
		mErr.Inc()
		r.log.Error("outbox mark error", zap.String("key", key), zap.String("status", string(st)), zap.Error(err))
	}
}
