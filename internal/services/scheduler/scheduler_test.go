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
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo  *memory.EndpointRepo
	queue *queue.MemoryQueue
	s     *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.NewEndpointRepo(),
		queue: queue.NewMemoryQueue(func() time.Time { return t0 }),
	}
	f.s = New(zap.NewNop(), memory.Transactor{}, f.repo, f.queue)
	return f
}

func (f *fixture) add(active bool, ref task.Handle) *endpoint.Endpoint {
	e := &endpoint.Endpoint{
		ID:          uuid.New(),
		URL:         "http://example.com",
		Interval:    time.Minute,
		Active:      active,
		ScheduleRef: ref,
		CreatedAt:   time.Now(),
	}
	f.repo.Put(e)
	return e
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *endpoint.Endpoint {
	t.Helper()
	e, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (f *fixture) state(t *testing.T, h task.Handle) task.State {
	t.Helper()
	st, err := f.queue.State(context.Background(), h)
	require.NoError(t, err)
	return st
}

func TestSchedule_SetsReferenceAndRevokesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(true, "")

	h1, err := f.s.Schedule(ctx, e.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, h1, f.get(t, e.ID).ScheduleRef)
	d, ok := f.queue.Delay(h1)
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)

	h2, err := f.s.Schedule(ctx, e.ID, 30*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h2, f.get(t, e.ID).ScheduleRef)
	assert.Equal(t, task.StateRevoked, f.state(t, h1))
	assert.Equal(t, []task.Handle{h2}, f.queue.Pending(task.Descriptor{EndpointID: e.ID}))
}

func TestSchedule_StartedPreviousIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(true, "")

	h1, err := f.s.Schedule(ctx, e.ID, 0)
	require.NoError(t, err)
	claims, err := f.queue.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	h2, err := f.s.Schedule(ctx, e.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.StateStarted, f.state(t, h1))
	assert.Equal(t, task.StatePending, f.state(t, h2))
}

func TestSchedule_SubmitFailureLeavesEndpointUnscheduled(t *testing.T) {
	f := newFixture(t)
	e := f.add(true, "")
	f.queue.SubmitErr = errors.New("substrate down")

	h, err := f.s.Schedule(context.Background(), e.ID, time.Minute)
	require.Error(t, err)
	assert.True(t, h.IsZero())

	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "submit", serr.Op)
	assert.Equal(t, e.ID, serr.EndpointID)
	assert.False(t, f.get(t, e.ID).Scheduled())
	assert.Empty(t, f.queue.Pending(task.Descriptor{}))
}

func TestSchedule_InactiveEndpoint(t *testing.T) {
	f := newFixture(t)
	e := f.add(false, "")

	_, err := f.s.Schedule(context.Background(), e.ID, 0)
	assert.ErrorIs(t, err, endpoint.ErrInactive)
	assert.Empty(t, f.queue.Pending(task.Descriptor{}))
}

func TestSchedule_UnknownEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.Schedule(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, endpoint.ErrNotFound)
}

func TestSchedule_ReferenceWriteFailureReportsOrphan(t *testing.T) {
	f := newFixture(t)
	e := f.add(true, "")
	f.repo.SetRefErr = errors.New("row locked")

	_, err := f.s.Schedule(context.Background(), e.ID, time.Minute)
	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "write reference", serr.Op)
	require.False(t, serr.Handle.IsZero())

	// the accepted check is still pending and will reschedule itself when it runs
	assert.Equal(t, task.StatePending, f.state(t, serr.Handle))
	assert.False(t, f.get(t, e.ID).Scheduled())
}

// sharedTxQueue drops rows submitted inside a failed transaction, the way a
// substrate living in the same database does.
type sharedTxQueue struct {
	*queue.MemoryQueue
	rolledBack map[task.Handle]bool
	inTx       []task.Handle
}

func (q *sharedTxQueue) Submit(ctx context.Context, d task.Descriptor, delay time.Duration) (task.Handle, error) {
	h, err := q.MemoryQueue.Submit(ctx, d, delay)
	if err == nil {
		q.inTx = append(q.inTx, h)
	}
	return h, err
}

func (q *sharedTxQueue) State(ctx context.Context, h task.Handle) (task.State, error) {
	if q.rolledBack[h] {
		return task.StateUnknown, nil
	}
	return q.MemoryQueue.State(ctx, h)
}

type sharedTx struct{ q *sharedTxQueue }

func (tx sharedTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.q.inTx = nil
	err := fn(ctx)
	if err != nil {
		for _, h := range tx.q.inTx {
			tx.q.rolledBack[h] = true
		}
	}
	return err
}

func TestSchedule_RolledBackSubmitIsNotAnOrphan(t *testing.T) {
	repo := memory.NewEndpointRepo()
	q := &sharedTxQueue{MemoryQueue: queue.NewMemoryQueue(nil), rolledBack: map[task.Handle]bool{}}
	s := New(zap.NewNop(), sharedTx{q: q}, repo, q)
	e := &endpoint.Endpoint{ID: uuid.New(), URL: "http://example.com", Interval: time.Minute, Active: true}
	repo.Put(e)
	repo.SetRefErr = errors.New("row locked")

	before := testutil.ToFloat64(mOrphans)
	_, err := s.Schedule(context.Background(), e.ID, time.Minute)
	var serr *SchedulingError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, before, testutil.ToFloat64(mOrphans))
}

func TestSchedule_SurvivingSubmitIsCountedAsOrphan(t *testing.T) {
	f := newFixture(t)
	e := f.add(true, "")
	f.repo.SetRefErr = errors.New("row locked")

	before := testutil.ToFloat64(mOrphans)
	_, err := f.s.Schedule(context.Background(), e.ID, time.Minute)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(mOrphans))
}

func TestRevoke_Outcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(true, "")

	started, err := f.queue.Submit(ctx, task.Descriptor{EndpointID: e.ID}, 0)
	require.NoError(t, err)
	_, err = f.queue.ClaimDue(ctx, 10)
	require.NoError(t, err)
	pending, err := f.queue.Submit(ctx, task.Descriptor{EndpointID: e.ID}, time.Hour)
	require.NoError(t, err)

	out, err := f.s.Revoke(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, task.Cancelled, out)

	out, err = f.s.Revoke(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, task.Cancelled, out, "revoking twice is idempotent")

	out, err = f.s.Revoke(ctx, started)
	require.NoError(t, err)
	assert.Equal(t, task.AlreadyStarted, out)
	assert.Equal(t, task.StateStarted, f.state(t, started))

	out, err = f.s.Revoke(ctx, task.NewHandle())
	require.NoError(t, err)
	assert.Equal(t, task.Unknown, out)

	out, err = f.s.Revoke(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, task.Unknown, out)
}

func TestCheckNow_ReplacesPendingCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(true, "")

	h1, err := f.s.Schedule(ctx, e.ID, time.Hour)
	require.NoError(t, err)
	h2, err := f.s.CheckNow(ctx, e.ID)
	require.NoError(t, err)

	d, ok := f.queue.Delay(h2)
	require.True(t, ok)
	assert.Zero(t, d)
	assert.Equal(t, task.StateRevoked, f.state(t, h1))
}

func TestActivateDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(false, "")

	h, err := f.s.Activate(ctx, e.ID)
	require.NoError(t, err)
	got := f.get(t, e.ID)
	assert.True(t, got.Active)
	assert.Equal(t, h, got.ScheduleRef)

	require.NoError(t, f.s.Deactivate(ctx, e.ID))
	got = f.get(t, e.ID)
	assert.False(t, got.Active)
	assert.False(t, got.Scheduled())
	assert.Equal(t, task.StateRevoked, f.state(t, h))

	assert.ErrorIs(t, f.s.Deactivate(ctx, uuid.New()), endpoint.ErrNotFound)
}

// refSwap stands in for a schedule that commits a new reference between any
// earlier read and the deactivation write.
type refSwap struct {
	*memory.EndpointRepo
	swapTo task.Handle
}

func (r refSwap) Deactivate(ctx context.Context, id uuid.UUID) (task.Handle, error) {
	if err := r.EndpointRepo.SetScheduleRef(ctx, id, r.swapTo); err != nil {
		return "", err
	}
	return r.EndpointRepo.Deactivate(ctx, id)
}

func TestDeactivate_RevokesReferenceItCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.queue.Submit(ctx, task.Descriptor{}, time.Hour)
	require.NoError(t, err)
	e := f.add(true, old)
	racing, err := f.queue.Submit(ctx, task.Descriptor{EndpointID: e.ID}, time.Hour)
	require.NoError(t, err)

	s := New(zap.NewNop(), memory.Transactor{}, refSwap{EndpointRepo: f.repo, swapTo: racing}, f.queue)
	require.NoError(t, s.Deactivate(ctx, e.ID))

	assert.Equal(t, task.StateRevoked, f.state(t, racing), "the reference the write cleared is revoked")
	assert.False(t, f.get(t, e.ID).Scheduled())
	assert.Empty(t, f.queue.Pending(task.Descriptor{EndpointID: e.ID}))
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Ping(context.Background()))
	f.queue.PingErr = errors.New("down")
	assert.Error(t, f.s.Ping(context.Background()))
}
