package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/queue"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/NordCoder/Sentinel/internal/services/scheduler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type stubProber struct{ out metric.Outcome }

func (p stubProber) Execute(context.Context, *endpoint.Endpoint) metric.Outcome { return p.out }

type recordingDispatcher struct {
	mu  sync.Mutex
	got []alert.Payload
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p alert.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, p)
	return d.err
}

func ptr[T any](v T) *T { return &v }

type harness struct {
	endpoints *memory.EndpointRepo
	metrics   *memory.MetricRepo
	queue     *queue.MemoryQueue
	sched     *scheduler.Scheduler
	disp      *recordingDispatcher
	prober    *stubProber
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		endpoints: memory.NewEndpointRepo(),
		metrics:   memory.NewMetricRepo(),
		queue:     queue.NewMemoryQueue(func() time.Time { return now }),
		disp:      &recordingDispatcher{},
		prober:    &stubProber{out: metric.Outcome{Class: metric.Reachable, StatusCode: ptr(200), LatencyMS: ptr[int64](40)}},
	}
	tx := memory.Transactor{}
	h.sched = scheduler.New(zap.NewNop(), tx, h.endpoints, h.queue)
	h.engine = New(zap.NewNop(), h.endpoints, h.queue, h.prober,
		NewRecorder(tx, h.metrics, h.endpoints), h.sched, h.disp, fixedClock{},
		Config{RetryDelay: 15 * time.Second, DefaultRecipient: "oncall@example.com"})
	return h
}

func (h *harness) endpoint(t *testing.T, maxLatency *int64) *endpoint.Endpoint {
	t.Helper()
	e := &endpoint.Endpoint{
		ID:           uuid.New(),
		URL:          "https://svc.example.com/health",
		Interval:     time.Minute,
		MaxLatencyMS: maxLatency,
		Active:       true,
	}
	h.endpoints.Put(e)
	return e
}

// claim schedules a check due now for e and claims it.
func (h *harness) claim(t *testing.T, e *endpoint.Endpoint) task.Claim {
	t.Helper()
	_, err := h.sched.Schedule(context.Background(), e.ID, 0)
	require.NoError(t, err)
	claims, err := h.queue.ClaimDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	return claims[0]
}

func (h *harness) stored(t *testing.T, id uuid.UUID) *endpoint.Endpoint {
	t.Helper()
	e, err := h.endpoints.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (h *harness) state(t *testing.T, hd task.Handle) task.State {
	t.Helper()
	st, err := h.queue.State(context.Background(), hd)
	require.NoError(t, err)
	return st
}

func TestRunCycle_HealthyEndpoint(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, ptr[int64](500))
	c := h.claim(t, e)

	require.NoError(t, h.engine.RunCycle(context.Background(), c))

	assert.Equal(t, 1, h.metrics.Count(e.ID))
	assert.Empty(t, h.disp.got)
	assert.Equal(t, task.StateDone, h.state(t, c.Handle))

	got := h.stored(t, e.ID)
	require.NotNil(t, got.LastCheckedAt)
	assert.Equal(t, now, *got.LastCheckedAt)

	pending := h.queue.Pending(task.Descriptor{EndpointID: e.ID})
	require.Len(t, pending, 1)
	assert.Equal(t, got.ScheduleRef, pending[0])
	d, _ := h.queue.Delay(pending[0])
	assert.Equal(t, time.Minute, d)
}

func TestRunCycle_OneMetricPerClassification(t *testing.T) {
	cases := []struct {
		name  string
		out   metric.Outcome
		alert bool
	}{
		{"reachable", metric.Outcome{Class: metric.Reachable, StatusCode: ptr(200), LatencyMS: ptr[int64](10)}, false},
		{"bad status", metric.Outcome{Class: metric.UnreachableStatus, StatusCode: ptr(503), LatencyMS: ptr[int64](10), Error: ptr("unexpected status code: 503")}, true},
		{"timeout", metric.Outcome{Class: metric.Timeout, Error: ptr("timeout after 1m0s")}, true},
		{"connect", metric.Outcome{Class: metric.ConnectError, Error: ptr("connection error: connection refused")}, true},
		{"unexpected", metric.Outcome{Class: metric.UnexpectedError, Error: ptr("unexpected error: boom")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.prober.out = tc.out
			e := h.endpoint(t, nil)

			require.NoError(t, h.engine.RunCycle(context.Background(), h.claim(t, e)))

			rows, err := h.metrics.ListByEndpoint(context.Background(), e.ID, metric.Filter{})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, tc.out.Class, rows[0].Class)
			assert.Equal(t, tc.out.Class == metric.Reachable, rows[0].Reachable)
			if tc.alert {
				require.Len(t, h.disp.got, 1)
				assert.Equal(t, alert.ReasonDown, h.disp.got[0].Reason)
			} else {
				assert.Empty(t, h.disp.got)
			}
			assert.Len(t, h.queue.Pending(task.Descriptor{EndpointID: e.ID}), 1)
		})
	}
}

func TestRunCycle_DownWinsOverLatency(t *testing.T) {
	h := newHarness(t)
	h.prober.out = metric.Outcome{
		Class: metric.UnreachableStatus, StatusCode: ptr(500), LatencyMS: ptr[int64](900),
		Error: ptr("unexpected status code: 500"),
	}
	e := h.endpoint(t, ptr[int64](500))

	require.NoError(t, h.engine.RunCycle(context.Background(), h.claim(t, e)))

	require.Len(t, h.disp.got, 1)
	p := h.disp.got[0]
	assert.Equal(t, alert.ReasonDown, p.Reason)
	assert.Equal(t, "Monitor DOWN: https://svc.example.com/health", p.Subject)
	assert.Equal(t, "Monitor DOWN: https://svc.example.com/health (Error: unexpected status code: 500)", p.Message)
	assert.Equal(t, "oncall@example.com", p.Recipient)
}

func TestRunCycle_LatencyThreshold(t *testing.T) {
	for _, tc := range []struct {
		latency int64
		alert   bool
	}{{900, true}, {250, false}, {500, false}} {
		h := newHarness(t)
		h.prober.out = metric.Outcome{Class: metric.Reachable, StatusCode: ptr(200), LatencyMS: ptr(tc.latency)}
		e := h.endpoint(t, ptr[int64](500))
		e.Contact = "team@example.com"
		h.endpoints.Put(e)

		require.NoError(t, h.engine.RunCycle(context.Background(), h.claim(t, e)))

		if !tc.alert {
			assert.Empty(t, h.disp.got, "latency %d", tc.latency)
			continue
		}
		require.Len(t, h.disp.got, 1)
		p := h.disp.got[0]
		assert.Equal(t, alert.ReasonLatency, p.Reason)
		assert.Equal(t, "Latency Alert: https://svc.example.com/health (900ms > 500ms)", p.Message)
		assert.Equal(t, "team@example.com", p.Recipient)
	}
}

func TestRunCycle_PersistFailureSkipsAlertButReschedules(t *testing.T) {
	h := newHarness(t)
	h.prober.out = metric.Outcome{Class: metric.Timeout, Error: ptr("timeout after 1m0s")}
	h.metrics.Err = errors.New("disk full")
	e := h.endpoint(t, nil)
	c := h.claim(t, e)

	err := h.engine.RunCycle(context.Background(), c)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, e.ID, perr.EndpointID)

	assert.Empty(t, h.disp.got)
	assert.Equal(t, task.StateDone, h.state(t, c.Handle))
	assert.Len(t, h.queue.Pending(task.Descriptor{EndpointID: e.ID}), 1)
}

func TestRunCycle_DispatchFailureStillReschedules(t *testing.T) {
	h := newHarness(t)
	h.prober.out = metric.Outcome{Class: metric.ConnectError, Error: ptr("connection error: reset")}
	h.disp.err = errors.New("outbox unavailable")
	e := h.endpoint(t, nil)

	require.NoError(t, h.engine.RunCycle(context.Background(), h.claim(t, e)))
	assert.Equal(t, 1, h.metrics.Count(e.ID))
	assert.Len(t, h.queue.Pending(task.Descriptor{EndpointID: e.ID}), 1)
}

func TestRunCycle_InactiveEndpointEndsLineage(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, nil)
	c := h.claim(t, e)

	got := h.stored(t, e.ID)
	got.Active = false
	h.endpoints.Put(got) // deactivated while the check was waiting, reference still set

	require.NoError(t, h.engine.RunCycle(context.Background(), c))
	assert.Zero(t, h.metrics.Count(e.ID))
	assert.Empty(t, h.queue.Pending(task.Descriptor{}))
	assert.False(t, h.stored(t, e.ID).Scheduled())
	assert.Equal(t, task.StateDone, h.state(t, c.Handle))
}

func TestRunCycle_DeletedEndpointIsDropped(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, nil)
	c := h.claim(t, e)
	h.endpoints.Delete(e.ID)

	require.NoError(t, h.engine.RunCycle(context.Background(), c))
	assert.Zero(t, h.metrics.Count(e.ID))
	assert.Empty(t, h.queue.Pending(task.Descriptor{}))
	assert.Equal(t, task.StateDone, h.state(t, c.Handle))
}

func TestRunCycle_StoreErrorReleasesClaim(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, nil)
	c := h.claim(t, e)
	h.endpoints.Err = errors.New("connection reset")

	require.Error(t, h.engine.RunCycle(context.Background(), c))
	assert.Equal(t, task.StatePending, h.state(t, c.Handle))
	d, ok := h.queue.Delay(c.Handle)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, d)
	assert.Zero(t, h.metrics.Count(e.ID))
}

func TestRunCycle_RunningCheckCannotBeRevoked(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, nil)
	c := h.claim(t, e)

	out, err := h.sched.Revoke(context.Background(), c.Handle)
	require.NoError(t, err)
	assert.Equal(t, task.AlreadyStarted, out)

	require.NoError(t, h.engine.RunCycle(context.Background(), c))
	assert.Equal(t, 1, h.metrics.Count(e.ID))
	assert.Len(t, h.queue.Pending(task.Descriptor{EndpointID: e.ID}), 1)
}

func TestRunCycle_DuplicateDeliveryKeepsSinglePendingCheck(t *testing.T) {
	h := newHarness(t)
	e := h.endpoint(t, nil)
	c := h.claim(t, e)

	// a second copy of the same claim arrives after the first cycle finished
	require.NoError(t, h.engine.RunCycle(context.Background(), c))
	require.NoError(t, h.engine.RunCycle(context.Background(), c))

	assert.Equal(t, 2, h.metrics.Count(e.ID))
	pending := h.queue.Pending(task.Descriptor{EndpointID: e.ID})
	require.Len(t, pending, 1)
	assert.Equal(t, h.stored(t, e.ID).ScheduleRef, pending[0])
}
