package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct {
	mu   sync.Mutex
	msgs []*outbox.Message

	// Err, when set, fails Enqueue.
	Err error
}

func NewOutboxRepo() *OutboxRepo { return &OutboxRepo{} }

func (r *OutboxRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, m := range r.msgs {
		if m.IdempotencyKey == key {
			return nil
		}
	}
	now := time.Now()
	r.msgs = append(r.msgs, &outbox.Message{
		IdempotencyKey: key, Kind: kind, Data: data,
		Status: outbox.StatusCreated, CreatedAt: now, UpdatedAt: now,
	})
	return nil
}

func (r *OutboxRepo) PickBatch(_ context.Context, batch int, ttl time.Duration) ([]outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []outbox.Message
	for _, m := range r.msgs {
		if len(out) == batch {
			break
		}
		stale := m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-ttl))
		if m.Status == outbox.StatusCreated || stale {
			m.Status = outbox.StatusInProgress
			m.UpdatedAt = now
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *OutboxRepo) Touch(_ context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	now := time.Now()
	for _, m := range r.msgs {
		if _, ok := set[m.IdempotencyKey]; ok && m.Status == outbox.StatusInProgress {
			m.UpdatedAt = now
		}
	}
	return nil
}

func (r *OutboxRepo) MarkSuccess(_ context.Context, keys []string) error {
	r.mark(keys, outbox.StatusSuccess)
	return nil
}

func (r *OutboxRepo) MarkFailed(_ context.Context, keys []string) error {
	r.mark(keys, outbox.StatusFailed)
	return nil
}

func (r *OutboxRepo) mark(keys []string, st outbox.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for _, m := range r.msgs {
		if _, ok := set[m.IdempotencyKey]; ok {
			m.Status = st
			m.UpdatedAt = time.Now()
		}
	}
}

// Messages returns a snapshot of every stored message.
func (r *OutboxRepo) Messages() []outbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]outbox.Message, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, *m)
	}
	return out
}
