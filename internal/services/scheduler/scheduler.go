package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mSchedules = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_schedules_total", Help: "Schedule calls by result.",
	}, []string{"result"})
	mScheduleFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_schedule_failures_total", Help: "Endpoints left without a pending check after a failed schedule.",
	})
	mOrphans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_schedule_orphans_total", Help: "Accepted checks whose reference could not be written.",
	})
	mRevokes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_revokes_total", Help: "Revoke calls by outcome.",
	}, []string{"outcome"})
)

// DefaultStuckGrace is how long past its interval a claimed check may run
// before the sweep considers it lost.
const DefaultStuckGrace = time.Minute

// Scheduler keeps at most one pending check per active endpoint.
type Scheduler struct {
	log        *zap.Logger
	tx         postgres.Transactor
	endpoints  endpoint.Repo
	queue      task.Queue
	now        func() time.Time
	stuckGrace time.Duration
}

type Option func(*Scheduler)

// WithClock sets the clock the sweep compares claim times against.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStuckGrace sets how long past the endpoint interval a claimed check
// may stay STARTED before Sweep replaces it.
func WithStuckGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stuckGrace = d
		}
	}
}

func New(log *zap.Logger, tx postgres.Transactor, endpoints endpoint.Repo, queue task.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:        obs.Component(log, "scheduler"),
		tx:         tx,
		endpoints:  endpoints,
		queue:      queue,
		now:        time.Now,
		stuckGrace: DefaultStuckGrace,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule submits the next check of endpointID after delay and makes it the
// endpoint's reference. The previous reference is revoked after commit; its
// failure is logged only.
func (s *Scheduler) Schedule(ctx context.Context, endpointID uuid.UUID, delay time.Duration) (task.Handle, error) {
	e, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		mSchedules.WithLabelValues("error").Inc()
		return "", fmt.Errorf("load endpoint: %w", err)
	}
	return s.schedule(ctx, e, delay)
}

func (s *Scheduler) schedule(ctx context.Context, e *endpoint.Endpoint, delay time.Duration) (task.Handle, error) {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.schedule",
		trace.WithAttributes(
			attribute.String("endpoint.id", e.ID.String()),
			attribute.String("delay", delay.String()),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctx, s.log).With(zap.String("endpoint_id", e.ID.String()))

	if !e.Active {
		mSchedules.WithLabelValues("inactive").Inc()
		return "", endpoint.ErrInactive
	}
	prev := e.ScheduleRef

	var h task.Handle
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if h, err = s.queue.Submit(ctx, task.Descriptor{EndpointID: e.ID}, delay); err != nil {
			h = ""
			return &SchedulingError{EndpointID: e.ID, Op: "submit", Err: err}
		}
		if err := s.endpoints.SetScheduleRef(ctx, e.ID, h); err != nil {
			if errors.Is(err, endpoint.ErrInactive) {
				return err
			}
			return &SchedulingError{EndpointID: e.ID, Op: "write reference", Handle: h, Err: err}
		}
		return nil
	})

	var serr *SchedulingError
	switch {
	case err == nil:
	case errors.Is(err, endpoint.ErrInactive):
		mSchedules.WithLabelValues("inactive").Inc()
		// a substrate outside the transaction keeps the row: drop it
		s.revoke(ctx, h, log)
		return "", endpoint.ErrInactive
	case errors.As(err, &serr) && serr.Op == "submit":
		obs.SpanError(span, err)
		mSchedules.WithLabelValues("error").Inc()
		mScheduleFail.Inc()
		log.Error("submit failed, endpoint left unscheduled", zap.Error(err))
		return "", err
	default:
		obs.SpanError(span, err)
		mSchedules.WithLabelValues("error").Inc()
		if s.outlived(ctx, h) {
			mOrphans.Inc()
			log.Error("schedule reference not written, check may run orphaned",
				zap.String("orphan", h.String()), zap.Error(err))
		}
		if serr == nil {
			err = &SchedulingError{EndpointID: e.ID, Op: "commit", Handle: h, Err: err}
		}
		return "", err
	}

	if !prev.IsZero() && prev != h {
		s.revoke(ctx, prev, log)
	}
	mSchedules.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("task.handle", h.String()))
	return h, nil
}

// outlived reports whether h survived the failed transaction. A substrate
// sharing the transaction rolls the row back and leaves nothing to orphan.
func (s *Scheduler) outlived(ctx context.Context, h task.Handle) bool {
	if h.IsZero() {
		return false
	}
	st, err := s.queue.State(context.WithoutCancel(ctx), h)
	if err != nil {
		return true
	}
	return st != task.StateUnknown
}

// Revoke cancels h if it is still pending. Consumed or unknown handles are
// reported through the outcome, not as errors.
func (s *Scheduler) Revoke(ctx context.Context, h task.Handle) (task.CancelOutcome, error) {
	if h.IsZero() {
		return task.Unknown, nil
	}
	out, err := s.queue.Cancel(ctx, h)
	if err != nil {
		mRevokes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("revoke %s: %w", h, err)
	}
	mRevokes.WithLabelValues(string(out)).Inc()
	return out, nil
}

func (s *Scheduler) revoke(ctx context.Context, h task.Handle, log *zap.Logger) {
	if h.IsZero() {
		return
	}
	out, err := s.Revoke(ctx, h)
	if err != nil {
		log.Warn("revoke previous check failed", zap.String("handle", h.String()), zap.Error(err))
		return
	}
	log.Debug("revoked previous check", zap.String("handle", h.String()), zap.String("outcome", string(out)))
}

// CheckNow replaces the pending check of endpointID with one due immediately.
func (s *Scheduler) CheckNow(ctx context.Context, endpointID uuid.UUID) (task.Handle, error) {
	return s.Schedule(ctx, endpointID, 0)
}

// Activate marks the endpoint active and schedules a check right away.
func (s *Scheduler) Activate(ctx context.Context, endpointID uuid.UUID) (task.Handle, error) {
	e, err := s.endpoints.SetActive(ctx, endpointID, true)
	if err != nil {
		return "", fmt.Errorf("activate: %w", err)
	}
	return s.schedule(ctx, e, 0)
}

// Deactivate marks the endpoint inactive and revokes the reference the same
// write cleared. A running check finishes and does not reschedule.
func (s *Scheduler) Deactivate(ctx context.Context, endpointID uuid.UUID) error {
	prev, err := s.endpoints.Deactivate(ctx, endpointID)
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	log := obs.WithTrace(ctx, s.log).With(zap.String("endpoint_id", endpointID.String()))
	s.revoke(ctx, prev, log)
	log.Info("endpoint deactivated")
	return nil
}

// Ping reports whether the substrate is reachable.
func (s *Scheduler) Ping(ctx context.Context) error { return s.queue.Ping(ctx) }
