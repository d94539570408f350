package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Cycle runs one claimed check to completion.
type Cycle interface {
	RunCycle(ctx context.Context, c task.Claim) error
}

// CycleFunc adapts a function to Cycle.
type CycleFunc func(ctx context.Context, c task.Claim) error

func (f CycleFunc) RunCycle(ctx context.Context, c task.Claim) error { return f(ctx, c) }

// WorkerPool runs check cycles on a fixed number of goroutines. Submit blocks
// while every worker is busy and the buffer is full; claims are never dropped.
type WorkerPool struct {
	log     *zap.Logger
	cycle   Cycle
	claimer task.Claimer
	retry   time.Duration
	workers int

	jobs     chan task.Claim
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type PoolConfig struct {
	Workers    int
	Buffer     int
	RetryDelay time.Duration
}

// NewWorkerPool builds a pool. claimer receives buffered claims back on Stop.
func NewWorkerPool(log *zap.Logger, cycle Cycle, claimer task.Claimer, cfg PoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	return &WorkerPool{
		log:      obs.Component(log, "queue.pool"),
		cycle:    cycle,
		claimer:  claimer,
		retry:    cfg.RetryDelay,
		workers:  cfg.Workers,
		jobs:     make(chan task.Claim, cfg.Buffer),
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. Cycles run detached from ctx cancellation so an
// in-flight cycle always reaches its reschedule step.
func (p *WorkerPool) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(base)
	}
	p.log.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("buffer", cap(p.jobs)))
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		// stop wins over a ready job: buffered claims are released, not run
		select {
		case <-p.stopping:
			return
		default:
		}
		select {
		case <-p.stopping:
			return
		case c := <-p.jobs:
			p.run(ctx, c)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, c task.Claim) {
	mInflight.Inc()
	defer mInflight.Dec()
	defer func() {
		if r := recover(); r != nil {
			mPanics.Inc()
			p.log.Error("check cycle panicked",
				zap.String("endpoint_id", c.EndpointID.String()),
				zap.String("handle", c.Handle.String()),
				zap.Any("panic", r))
		}
	}()
	if err := p.cycle.RunCycle(ctx, c); err != nil {
		obs.WithTrace(ctx, p.log).Warn("check cycle failed",
			zap.String("endpoint_id", c.EndpointID.String()),
			zap.String("handle", c.Handle.String()),
			zap.Error(err))
	}
}

// Submit hands c to a worker, waiting for room.
func (p *WorkerPool) Submit(ctx context.Context, c task.Claim) error {
	select {
	case <-p.stopping:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- c:
		return nil
	case <-p.stopping:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", c.Handle, ctx.Err())
	}
}

// Deliver makes the pool usable as the local transport.
func (p *WorkerPool) Deliver(ctx context.Context, c task.Claim) error { return p.Submit(ctx, c) }

func (p *WorkerPool) Name() string { return "local" }

// Stop lets running cycles finish, then returns buffered claims to the
// substrate. It gives up waiting when ctx ends.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopping) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}

	released := 0
	for {
		select {
		case c := <-p.jobs:
			if err := p.claimer.Release(context.WithoutCancel(ctx), c.Handle, p.retry); err != nil {
				p.log.Warn("release buffered claim", zap.String("handle", c.Handle.String()), zap.Error(err))
				continue
			}
			mReleased.Inc()
			released++
		default:
			p.log.Info("worker pool stopped", zap.Int("released", released))
			return nil
		}
	}
}
