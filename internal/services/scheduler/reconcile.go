package scheduler

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var mReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_reconciled_endpoints_total", Help: "Endpoints handled by reconciliation, by result.",
}, []string{"result"})

type Report struct {
	Active    int                  `json:"active"`
	Scheduled int                  `json:"scheduled"`
	Cleared   int                  `json:"cleared"`
	Failures  map[uuid.UUID]string `json:"failures,omitempty"`
}

func (r *Report) fail(id uuid.UUID, err error) {
	if r.Failures == nil {
		r.Failures = make(map[uuid.UUID]string)
	}
	r.Failures[id] = err.Error()
}

// ReconcileAll rebuilds the schedule from durable state: every active
// endpoint gets a fresh check due now, replacing whatever it referenced, and
// inactive endpoints lose their references. One endpoint failing does not stop
// the others. Only a failure to list active endpoints is returned.
//
// Running it from two processes at once produces duplicate schedules.
func (s *Scheduler) ReconcileAll(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.reconcile")
	defer span.End()
	log := obs.WithTrace(ctx, s.log)

	var rep Report
	active, err := s.endpoints.ListActive(ctx)
	if err != nil {
		obs.SpanError(span, err)
		return rep, fmt.Errorf("list active endpoints: %w", err)
	}
	rep.Active = len(active)

	for _, e := range active {
		if ctx.Err() != nil {
			rep.fail(e.ID, ctx.Err())
			continue
		}
		elog := log.With(zap.String("endpoint_id", e.ID.String()))
		// revoke first; schedule revokes it again after commit, which is a no-op
		s.revoke(ctx, e.ScheduleRef, elog)
		if _, err := s.schedule(ctx, e, 0); err != nil {
			mReconciled.WithLabelValues("failed").Inc()
			elog.Warn("reconcile endpoint failed", zap.Error(err))
			rep.fail(e.ID, err)
			continue
		}
		mReconciled.WithLabelValues("scheduled").Inc()
		rep.Scheduled++
	}

	inactive, err := s.endpoints.ListInactiveScheduled(ctx)
	if err != nil {
		log.Warn("list inactive endpoints with references", zap.Error(err))
	}
	for _, e := range inactive {
		elog := log.With(zap.String("endpoint_id", e.ID.String()))
		if err := s.endpoints.ClearScheduleRef(ctx, e.ID); err != nil {
			mReconciled.WithLabelValues("failed").Inc()
			elog.Warn("clear reference of inactive endpoint", zap.Error(err))
			rep.fail(e.ID, err)
			continue
		}
		s.revoke(ctx, e.ScheduleRef, elog)
		mReconciled.WithLabelValues("cleared").Inc()
		rep.Cleared++
	}

	span.SetAttributes(
		attribute.Int("reconcile.active", rep.Active),
		attribute.Int("reconcile.scheduled", rep.Scheduled),
		attribute.Int("reconcile.cleared", rep.Cleared),
		attribute.Int("reconcile.failed", len(rep.Failures)),
	)
	log.Info("reconcile done",
		zap.Int("active", rep.Active),
		zap.Int("scheduled", rep.Scheduled),
		zap.Int("cleared", rep.Cleared),
		zap.Int("failed", len(rep.Failures)))
	return rep, nil
}
