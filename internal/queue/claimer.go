package queue

import (
	"context"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ClaimerConfig struct {
	PollInterval time.Duration
	BatchLimit   int
	RetryDelay   time.Duration
}

// Runner moves due checks from the substrate onto the transport.
type Runner struct {
	log       *zap.Logger
	claimer   task.Claimer
	transport Transport
	cfg       ClaimerConfig
}

func NewRunner(log *zap.Logger, claimer task.Claimer, transport Transport, cfg ClaimerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Runner{
		log:       obs.Component(log, "queue.claimer"),
		claimer:   claimer,
		transport: transport,
		cfg:       cfg,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain keeps claiming while batches come back full.
func (r *Runner) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if n := r.Tick(ctx); n < r.cfg.BatchLimit {
			return
		}
	}
}

// Tick claims one batch and delivers it. Returns the number of claims.
func (r *Runner) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { mTickDur.Observe(time.Since(start).Seconds()) }()

	tr := otel.Tracer("queue.claimer")
	ctxTick, span := tr.Start(ctx, "queue.tick",
		trace.WithAttributes(attribute.Int("batch.limit", r.cfg.BatchLimit)),
	)
	defer span.End()

	claims, err := r.claimer.ClaimDue(ctxTick, r.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil {
			r.log.Warn("claim due checks", zap.Error(err))
		}
		return 0
	}
	span.SetAttributes(attribute.Int("batch.claimed", len(claims)))
	if len(claims) == 0 {
		return 0
	}
	mClaimed.Add(float64(len(claims)))

	for _, c := range claims {
		if err := r.transport.Deliver(ctxTick, c); err != nil {
			mDeliverErr.WithLabelValues(r.transport.Name()).Inc()
			span.RecordError(err)
			r.release(ctx, c, err)
		}
	}
	r.log.Debug("claimed batch", zap.Int("claimed", len(claims)))
	return len(claims)
}

func (r *Runner) release(ctx context.Context, c task.Claim, cause error) {
	log := r.log.With(zap.String("handle", c.Handle.String()), zap.String("endpoint_id", c.EndpointID.String()))
	if err := r.claimer.Release(context.WithoutCancel(ctx), c.Handle, r.cfg.RetryDelay); err != nil {
		log.Error("deliver failed and release failed", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	mReleased.Inc()
	log.Warn("deliver failed, claim released", zap.Error(cause), zap.Duration("retry_in", r.cfg.RetryDelay))
}
