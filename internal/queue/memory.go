package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
)

var (
	_ task.Queue   = (*MemoryQueue)(nil)
	_ task.Claimer = (*MemoryQueue)(nil)
)

type memEntry struct {
	desc      task.Descriptor
	runAt     time.Time
	state     task.State
	startedAt time.Time
}

// MemoryQueue is an in-process substrate with the same state rules as the
// Postgres one. Nothing survives a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[task.Handle]*memEntry

	// SubmitErr, when set, fails every Submit.
	SubmitErr error
	// PingErr is returned by Ping.
	PingErr error
}

func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{now: now, entries: make(map[task.Handle]*memEntry)}
}

func (q *MemoryQueue) Submit(_ context.Context, d task.Descriptor, delay time.Duration) (task.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.SubmitErr != nil {
		return "", q.SubmitErr
	}
	if delay < 0 {
		delay = 0
	}
	h := task.NewHandle()
	q.entries[h] = &memEntry{desc: d, runAt: q.now().Add(delay), state: task.StatePending}
	return h, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, h task.Handle) (task.CancelOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[h]
	if !ok {
		return task.Unknown, nil
	}
	switch e.state {
	case task.StatePending:
		e.state = task.StateRevoked
		return task.Cancelled, nil
	case task.StateRevoked:
		return task.Cancelled, nil
	default:
		return task.AlreadyStarted, nil
	}
}

func (q *MemoryQueue) State(_ context.Context, h task.Handle) (task.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[h]; ok {
		return e.state, nil
	}
	return task.StateUnknown, nil
}

func (q *MemoryQueue) Inspect(_ context.Context, h task.Handle) (task.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[h]
	if !ok {
		return task.Status{State: task.StateUnknown}, nil
	}
	return task.Status{State: e.state, StartedAt: e.startedAt}, nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.PingErr
}

func (q *MemoryQueue) ClaimDue(_ context.Context, limit int) ([]task.Claim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []task.Claim
	for h, e := range q.entries {
		if e.state == task.StatePending && !e.runAt.After(now) {
			out = append(out, task.Claim{Handle: h, Descriptor: e.desc, DueAt: e.runAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, c := range out {
		e := q.entries[c.Handle]
		e.state = task.StateStarted
		e.startedAt = now
	}
	return out, nil
}

func (q *MemoryQueue) Release(_ context.Context, h task.Handle, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[h]
	if !ok {
		return task.ErrUnknownHandle
	}
	if e.state == task.StateStarted {
		e.state = task.StatePending
		e.runAt = q.now().Add(delay)
		e.startedAt = time.Time{}
	}
	return nil
}

func (q *MemoryQueue) Complete(_ context.Context, h task.Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[h]
	if !ok {
		return task.ErrUnknownHandle
	}
	if e.state == task.StateStarted {
		e.state = task.StateDone
	}
	return nil
}

// Pending lists handles still waiting to run, for one endpoint or all when
// the descriptor is zero.
func (q *MemoryQueue) Pending(d task.Descriptor) []task.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []task.Handle
	for h, e := range q.entries {
		if e.state != task.StatePending {
			continue
		}
		if d == (task.Descriptor{}) || e.desc == d {
			out = append(out, h)
		}
	}
	return out
}

// Delay returns the remaining delay of a pending handle.
func (q *MemoryQueue) Delay(h task.Handle) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[h]
	if !ok || e.state != task.StatePending {
		return 0, false
	}
	return e.runAt.Sub(q.now()), true
}
