package queue

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryQueue_CancelOutcomes(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	q := NewMemoryQueue(clk.now)
	d := task.Descriptor{EndpointID: uuid.New()}

	h, err := q.Submit(ctx, d, time.Minute)
	require.NoError(t, err)

	out, err := q.Cancel(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.Cancelled, out)

	out, err = q.Cancel(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.Cancelled, out, "revoking twice stays cancelled")

	out, err = q.Cancel(ctx, task.NewHandle())
	require.NoError(t, err)
	assert.Equal(t, task.Unknown, out)

	h2, err := q.Submit(ctx, d, 0)
	require.NoError(t, err)
	claims, err := q.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, h2, claims[0].Handle)

	out, err = q.Cancel(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, task.AlreadyStarted, out)

	require.NoError(t, q.Complete(ctx, h2))
	st, err := q.State(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, task.StateDone, st)

	out, err = q.Cancel(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, task.AlreadyStarted, out)
}

func TestMemoryQueue_ClaimRespectsDelayAndLimit(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	q := NewMemoryQueue(clk.now)

	for i := 0; i < 5; i++ {
		_, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, time.Duration(i)*time.Second)
		require.NoError(t, err)
	}

	claims, err := q.ClaimDue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claims, 1)

	clk.advance(10 * time.Second)
	claims, err = q.ClaimDue(ctx, 3)
	require.NoError(t, err)
	require.Len(t, claims, 3)
	assert.True(t, !claims[0].DueAt.After(claims[1].DueAt))

	require.NoError(t, q.Release(ctx, claims[0].Handle, time.Minute))
	d, ok := q.Delay(claims[0].Handle)
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)
}

func TestMemoryQueue_ManyPending(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(nil)
	for i := 0; i < 5000; i++ {
		_, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, time.Hour)
		require.NoError(t, err)
	}
	assert.Len(t, q.Pending(task.Descriptor{}), 5000)
}

func TestMemoryQueue_InspectTracksStartTime(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	q := NewMemoryQueue(clk.now)

	h, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, 0)
	require.NoError(t, err)
	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, st.State)
	assert.True(t, st.StartedAt.IsZero())

	clk.advance(time.Second)
	_, err = q.ClaimDue(ctx, 1)
	require.NoError(t, err)
	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.StateStarted, st.State)
	assert.Equal(t, clk.t, st.StartedAt)
	assert.False(t, st.StuckSince(clk.t.Add(time.Minute), time.Minute))
	assert.True(t, st.StuckSince(clk.t.Add(time.Minute+time.Second), time.Minute))

	require.NoError(t, q.Release(ctx, h, 0))
	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, st.State)
	assert.True(t, st.StartedAt.IsZero())

	st, err = q.Inspect(ctx, task.NewHandle())
	require.NoError(t, err)
	assert.Equal(t, task.StateUnknown, st.State)
}
