package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/queue"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyRefs fails SetScheduleRef for a single endpoint.
type flakyRefs struct {
	*memory.EndpointRepo
	bad uuid.UUID
}

func (r flakyRefs) SetScheduleRef(ctx context.Context, id uuid.UUID, ref task.Handle) error {
	if id == r.bad {
		return errors.New("row locked")
	}
	return r.EndpointRepo.SetScheduleRef(ctx, id, ref)
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.queue.Submit(ctx, task.Descriptor{}, time.Hour)
	require.NoError(t, err)
	a := f.add(true, "")
	b := f.add(true, stale)
	c := f.add(true, task.NewHandle()) // reference the substrate never heard of
	orphaned, err := f.queue.Submit(ctx, task.Descriptor{}, time.Hour)
	require.NoError(t, err)
	off := f.add(false, orphaned)

	rep, err := f.s.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Active)
	assert.Equal(t, 3, rep.Scheduled)
	assert.Equal(t, 1, rep.Cleared)
	assert.Empty(t, rep.Failures)

	for _, id := range []uuid.UUID{a.ID, b.ID, c.ID} {
		pending := f.queue.Pending(task.Descriptor{EndpointID: id})
		require.Len(t, pending, 1)
		assert.Equal(t, pending[0], f.get(t, id).ScheduleRef)
		d, ok := f.queue.Delay(pending[0])
		require.True(t, ok)
		assert.Zero(t, d, "reconciled checks are due immediately")
	}
	assert.Equal(t, task.StateRevoked, f.state(t, stale))
	assert.Equal(t, task.StateRevoked, f.state(t, orphaned))
	assert.False(t, f.get(t, off.ID).Scheduled())
}

func TestReconcileAll_OneFailureDoesNotStopOthers(t *testing.T) {
	repo := memory.NewEndpointRepo()
	q := queue.NewMemoryQueue(func() time.Time { return t0 })
	good := uuid.New()
	bad := uuid.New()
	for i, id := range []uuid.UUID{bad, good} {
		repo.Put(&endpoint.Endpoint{
			ID: id, URL: "http://example.com", Interval: time.Minute, Active: true,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		})
	}
	s := New(zap.NewNop(), memory.Transactor{}, flakyRefs{EndpointRepo: repo, bad: bad}, q)

	rep, err := s.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Active)
	assert.Equal(t, 1, rep.Scheduled)
	require.Contains(t, rep.Failures, bad)
	assert.Len(t, q.Pending(task.Descriptor{EndpointID: good}), 1)
}

func TestReconcileAll_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Err = errors.New("db down")
	_, err := f.s.ReconcileAll(context.Background())
	assert.Error(t, err)
}

func TestSweep_ReschedulesEndpointsWithoutLiveCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live, err := f.s.Schedule(ctx, f.add(true, "").ID, time.Hour)
	require.NoError(t, err)

	done, err := f.queue.Submit(ctx, task.Descriptor{}, 0)
	require.NoError(t, err)
	_, err = f.queue.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, f.queue.Complete(ctx, done))
	lost := f.add(true, done)
	bare := f.add(true, "")
	f.add(false, "")

	n, err := f.s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, task.StatePending, f.state(t, live))
	assert.True(t, f.get(t, lost.ID).Scheduled())
	assert.NotEqual(t, done, f.get(t, lost.ID).ScheduleRef)
	assert.True(t, f.get(t, bare.ID).Scheduled())

	n, err = f.s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_ReplacesCheckStuckInStarted(t *testing.T) {
	ctx := context.Background()
	now := t0
	clock := func() time.Time { return now }
	repo := memory.NewEndpointRepo()
	q := queue.NewMemoryQueue(clock)
	s := New(zap.NewNop(), memory.Transactor{}, repo, q, WithClock(clock), WithStuckGrace(30*time.Second))

	e := &endpoint.Endpoint{ID: uuid.New(), URL: "http://example.com", Interval: time.Minute, Active: true}
	repo.Put(e)
	h, err := s.Schedule(ctx, e.ID, 0)
	require.NoError(t, err)

	// claimed, then lost before any worker ran it
	claims, err := q.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	now = t0.Add(80 * time.Second)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still within interval plus grace")

	now = t0.Add(91 * time.Second)
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.NotEqual(t, h, got.ScheduleRef)
	st, err := q.State(ctx, got.ScheduleRef)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, st)
	assert.Len(t, q.Pending(task.Descriptor{EndpointID: e.ID}), 1)
}

func TestNewSweeper(t *testing.T) {
	f := newFixture(t)
	_, err := NewSweeper(zap.NewNop(), f.s, "not a spec")
	assert.Error(t, err)

	sw, err := NewSweeper(zap.NewNop(), f.s, "@every 1h")
	require.NoError(t, err)
	sw.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sw.Stop(ctx)
}
