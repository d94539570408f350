package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_cycles_total", Help: "Check cycles by result.",
	}, []string{"result"})
	mPersistFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_persist_failures_total", Help: "Cycles whose outcome could not be stored.",
	})
	mAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_raised_total", Help: "Alerts handed to the dispatcher.",
	}, []string{"reason"})
	mCycleDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "sentinel_cycle_duration_seconds", Help: "Full check cycle duration.",
		Buckets: prometheus.DefBuckets,
	})
)

type Prober interface {
	Execute(ctx context.Context, e *endpoint.Endpoint) metric.Outcome
}

type Persister interface {
	Persist(ctx context.Context, endpointID uuid.UUID, o metric.Outcome, at time.Time) (*metric.Metric, error)
}

type Rescheduler interface {
	Schedule(ctx context.Context, endpointID uuid.UUID, delay time.Duration) (task.Handle, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, p alert.Payload) error
}

type Config struct {
	// RetryDelay is how long a claim waits after the endpoint could not be read.
	RetryDelay time.Duration
	// DefaultRecipient receives alerts for endpoints without a contact.
	DefaultRecipient string
}

// Engine runs one check cycle: probe, persist, evaluate, dispatch, reschedule.
type Engine struct {
	log        *zap.Logger
	endpoints  endpoint.Repo
	claimer    task.Claimer
	prober     Prober
	recorder   Persister
	scheduler  Rescheduler
	dispatcher Dispatcher
	clock      notification.Clock
	cfg        Config
}

func New(
	log *zap.Logger,
	endpoints endpoint.Repo,
	claimer task.Claimer,
	prober Prober,
	recorder Persister,
	scheduler Rescheduler,
	dispatcher Dispatcher,
	clock notification.Clock,
	cfg Config,
) *Engine {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	return &Engine{
		log:        obs.Component(log, "engine"),
		endpoints:  endpoints,
		claimer:    claimer,
		prober:     prober,
		recorder:   recorder,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
	}
}

// RunCycle executes the cycle for c. The successor is scheduled after the
// persistence attempt whatever its result; only a deleted or inactive
// endpoint ends the lineage.
func (en *Engine) RunCycle(ctx context.Context, c task.Claim) error {
	start := time.Now()
	defer func() { mCycleDur.Observe(time.Since(start).Seconds()) }()

	ctx, span := otel.Tracer("engine").Start(ctx, "engine.cycle",
		trace.WithAttributes(
			attribute.String("endpoint.id", c.EndpointID.String()),
			attribute.String("task.handle", c.Handle.String()),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctx, en.log).With(
		zap.String("endpoint_id", c.EndpointID.String()),
		zap.String("handle", c.Handle.String()),
	)

	e, err := en.endpoints.GetByID(ctx, c.EndpointID)
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		mCycles.WithLabelValues("dropped").Inc()
		log.Info("endpoint gone, dropping check")
		en.complete(ctx, c, log)
		return nil
	case err != nil:
		mCycles.WithLabelValues("retried").Inc()
		obs.SpanError(span, err)
		if rerr := en.claimer.Release(ctx, c.Handle, en.cfg.RetryDelay); rerr != nil {
			log.Error("load endpoint failed and release failed", zap.Error(err), zap.NamedError("release_error", rerr))
		}
		return fmt.Errorf("load endpoint: %w", err)
	}

	if !e.Active {
		mCycles.WithLabelValues("inactive").Inc()
		if e.Scheduled() {
			if err := en.endpoints.ClearScheduleRef(ctx, e.ID); err != nil {
				log.Warn("clear schedule ref of inactive endpoint", zap.Error(err))
			}
		}
		log.Info("endpoint inactive, not rescheduling")
		en.complete(ctx, c, log)
		return nil
	}
	if e.ScheduleRef != c.Handle {
		// duplicate or orphaned delivery: run it, the reschedule below takes over the lineage
		log.Debug("running check not referenced by endpoint", zap.String("schedule_ref", e.ScheduleRef.String()))
	}

	outcome := en.prober.Execute(ctx, e)
	span.SetAttributes(attribute.String("probe.class", string(outcome.Class)))

	m, perr := en.recorder.Persist(ctx, e.ID, outcome, en.clock.Now())
	if perr != nil {
		mPersistFail.Inc()
		obs.SpanError(span, perr)
		log.Error("persist outcome failed, skipping alert evaluation", zap.Error(perr))
	} else if ShouldAlert(e.Policy(), m) {
		en.raise(ctx, e, m, log)
	}

	en.reschedule(ctx, e, log)
	en.complete(ctx, c, log)

	if perr != nil {
		mCycles.WithLabelValues("persist_failed").Inc()
		return perr
	}
	mCycles.WithLabelValues(string(outcome.Class)).Inc()
	return nil
}

func (en *Engine) raise(ctx context.Context, e *endpoint.Endpoint, m *metric.Metric, log *zap.Logger) {
	p := BuildPayload(e, m, en.cfg.DefaultRecipient)
	mAlerts.WithLabelValues(string(p.Reason)).Inc()
	if err := en.dispatcher.Dispatch(ctx, p); err != nil {
		log.Error("dispatch alert", zap.String("reason", string(p.Reason)), zap.Error(err))
		return
	}
	log.Info("alert dispatched", zap.String("reason", string(p.Reason)), zap.String("message", p.Message))
}

func (en *Engine) reschedule(ctx context.Context, e *endpoint.Endpoint, log *zap.Logger) {
	h, err := en.scheduler.Schedule(ctx, e.ID, e.Interval)
	switch {
	case errors.Is(err, endpoint.ErrInactive):
		log.Info("endpoint deactivated during cycle, not rescheduling")
	case err != nil:
		log.Error("reschedule failed, endpoint left unscheduled", zap.Error(err))
	default:
		log.Debug("next check scheduled", zap.String("next", h.String()), zap.Duration("in", e.Interval))
	}
}

func (en *Engine) complete(ctx context.Context, c task.Claim, log *zap.Logger) {
	if err := en.claimer.Complete(ctx, c.Handle); err != nil {
		log.Warn("complete check", zap.Error(err))
	}
}
