package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingTransport struct {
	err       error
	delivered []task.Claim
}

func (r *recordingTransport) Name() string { return "test" }
func (r *recordingTransport) Deliver(_ context.Context, c task.Claim) error {
	if r.err != nil {
		return r.err
	}
	r.delivered = append(r.delivered, c)
	return nil
}

type fakeEvents struct{ published []task.Claim }

func (f *fakeEvents) PublishCheckDue(_ context.Context, c task.Claim) error {
	f.published = append(f.published, c)
	return nil
}

func TestRunner_TickDeliversDueClaims(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(nil)
	for i := 0; i < 3; i++ {
		_, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, 0)
		require.NoError(t, err)
	}
	_, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	tr := &recordingTransport{}
	r := NewRunner(zap.NewNop(), q, tr, ClaimerConfig{BatchLimit: 10})
	assert.Equal(t, 3, r.Tick(ctx))
	assert.Len(t, tr.delivered, 3)
	for _, c := range tr.delivered {
		st, err := q.State(ctx, c.Handle)
		require.NoError(t, err)
		assert.Equal(t, task.StateStarted, st)
	}
}

func TestRunner_DeliverFailureReleases(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(nil)
	h, err := q.Submit(ctx, task.Descriptor{EndpointID: uuid.New()}, 0)
	require.NoError(t, err)

	r := NewRunner(zap.NewNop(), q, &recordingTransport{err: errors.New("broker down")},
		ClaimerConfig{BatchLimit: 10, RetryDelay: 5 * time.Second})
	assert.Equal(t, 1, r.Tick(ctx))

	st, err := q.State(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, st)
	d, ok := q.Delay(h)
	require.True(t, ok)
	assert.InDelta(t, 5*time.Second, d, float64(100*time.Millisecond))
}

func TestKafkaTransport_Publishes(t *testing.T) {
	ev := &fakeEvents{}
	tr := NewKafkaTransport(ev)
	c := task.Claim{Handle: task.NewHandle(), Descriptor: task.Descriptor{EndpointID: uuid.New()}}
	require.NoError(t, tr.Deliver(context.Background(), c))
	assert.Equal(t, []task.Claim{c}, ev.published)
	assert.Equal(t, "kafka", tr.Name())
}
