package scheduler

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	mSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_sweep_rescheduled_total", Help: "Active endpoints found without a live check and rescheduled.",
	})
	mStuck = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_sweep_stuck_total", Help: "Claimed checks found STARTED for longer than interval plus grace.",
	})
)

// Sweep reschedules active endpoints whose reference is missing, no longer
// live in the substrate, or claimed but stuck for longer than the endpoint
// interval plus the stuck grace. It returns how many were rescheduled.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	active, err := s.endpoints.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active endpoints: %w", err)
	}
	log := obs.WithTrace(ctx, s.log)

	fixed := 0
	for _, e := range active {
		if e.Scheduled() {
			st, err := s.queue.Inspect(ctx, e.ScheduleRef)
			if err != nil {
				log.Warn("sweep: query check state", zap.String("endpoint_id", e.ID.String()), zap.Error(err))
				continue
			}
			if st.StuckSince(s.now(), e.Interval+s.stuckGrace) {
				mStuck.Inc()
				log.Warn("sweep: claimed check never finished",
					zap.String("endpoint_id", e.ID.String()),
					zap.String("handle", e.ScheduleRef.String()),
					zap.Time("started_at", st.StartedAt))
			} else if st.State.Live() {
				continue
			}
		}
		if _, err := s.schedule(ctx, e, 0); err != nil {
			log.Warn("sweep: reschedule failed", zap.String("endpoint_id", e.ID.String()), zap.Error(err))
			continue
		}
		mSwept.Inc()
		fixed++
		log.Info("sweep: endpoint had no live check, rescheduled", zap.String("endpoint_id", e.ID.String()))
	}
	return fixed, nil
}

// Sweeper runs Sweep on a cron spec such as "@every 5m".
type Sweeper struct {
	log  *zap.Logger
	s    *Scheduler
	cron *cron.Cron
}

func NewSweeper(log *zap.Logger, s *Scheduler, spec string) (*Sweeper, error) {
	log = obs.Component(log, "scheduler.sweep")
	cl := cronLogger{log.Sugar()}
	sw := &Sweeper{
		log:  log,
		s:    s,
		cron: cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
	}
	if _, err := sw.cron.AddFunc(spec, sw.run); err != nil {
		return nil, fmt.Errorf("sweep spec %q: %w", spec, err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	n, err := sw.s.Sweep(context.Background())
	if err != nil {
		sw.log.Error("sweep failed", zap.Error(err))
		return
	}
	sw.log.Debug("sweep done", zap.Int("rescheduled", n))
}

func (sw *Sweeper) Start() {
	sw.cron.Start()
	sw.log.Info("sweeper started")
}

// Stop waits for a running sweep to finish or ctx to end.
func (sw *Sweeper) Stop(ctx context.Context) {
	select {
	case <-sw.cron.Stop().Done():
	case <-ctx.Done():
	}
}

type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debugw(msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Errorw(msg, append(kv, "error", err)...)
}
