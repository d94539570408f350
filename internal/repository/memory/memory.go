// Package memory holds in-process implementations of the storage ports. They
// back unit tests of the services that sit on top of Postgres in production.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/google/uuid"
)

var (
	_ endpoint.Repo       = (*EndpointRepo)(nil)
	_ metric.Repo         = (*MetricRepo)(nil)
	_ alert.Repo          = (*AlertRepo)(nil)
	_ postgres.Transactor = Transactor{}
)

// Transactor runs fn directly: the in-memory repos have no transactions.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type EndpointRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*endpoint.Endpoint

	// Err, when set, fails every call.
	Err error
	// SetRefErr, when set, fails SetScheduleRef only.
	SetRefErr error
	// TouchErr, when set, fails TouchLastChecked only.
	TouchErr error
}

func NewEndpointRepo() *EndpointRepo {
	return &EndpointRepo{byID: make(map[uuid.UUID]*endpoint.Endpoint)}
}

// Put stores a copy of e.
func (r *EndpointRepo) Put(e *endpoint.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.byID[e.ID] = &cp
}

func (r *EndpointRepo) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *EndpointRepo) GetByID(_ context.Context, id uuid.UUID) (*endpoint.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	e, ok := r.byID[id]
	if !ok {
		return nil, endpoint.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *EndpointRepo) list(pred func(*endpoint.Endpoint) bool) ([]*endpoint.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*endpoint.Endpoint
	for _, e := range r.byID {
		if pred(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *EndpointRepo) ListActive(context.Context) ([]*endpoint.Endpoint, error) {
	return r.list(func(e *endpoint.Endpoint) bool { return e.Active })
}

func (r *EndpointRepo) ListInactiveScheduled(context.Context) ([]*endpoint.Endpoint, error) {
	return r.list(func(e *endpoint.Endpoint) bool { return !e.Active && e.Scheduled() })
}

func (r *EndpointRepo) SetScheduleRef(_ context.Context, id uuid.UUID, ref task.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := errors.Join(r.Err, r.SetRefErr); err != nil {
		return err
	}
	e, ok := r.byID[id]
	if !ok {
		return endpoint.ErrNotFound
	}
	if !e.Active {
		return endpoint.ErrInactive
	}
	e.ScheduleRef = ref
	return nil
}

func (r *EndpointRepo) ClearScheduleRef(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if e, ok := r.byID[id]; ok {
		e.ScheduleRef = ""
	}
	return nil
}

func (r *EndpointRepo) TouchLastChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := errors.Join(r.Err, r.TouchErr); err != nil {
		return err
	}
	e, ok := r.byID[id]
	if !ok {
		return endpoint.ErrNotFound
	}
	e.LastCheckedAt = &at
	return nil
}

func (r *EndpointRepo) SetActive(_ context.Context, id uuid.UUID, active bool) (*endpoint.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	e, ok := r.byID[id]
	if !ok {
		return nil, endpoint.ErrNotFound
	}
	e.Active = active
	if !active {
		e.ScheduleRef = ""
	}
	cp := *e
	return &cp, nil
}

func (r *EndpointRepo) Deactivate(_ context.Context, id uuid.UUID) (task.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	e, ok := r.byID[id]
	if !ok {
		return "", endpoint.ErrNotFound
	}
	prev := e.ScheduleRef
	e.Active = false
	e.ScheduleRef = ""
	return prev, nil
}

type MetricRepo struct {
	mu   sync.Mutex
	rows []*metric.Metric

	// Err, when set, fails Insert.
	Err error
}

func NewMetricRepo() *MetricRepo { return &MetricRepo{} }

func (r *MetricRepo) Insert(_ context.Context, m *metric.Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := *m
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MetricRepo) ListByEndpoint(_ context.Context, id uuid.UUID, f metric.Filter) ([]*metric.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*metric.Metric
	for i := len(r.rows) - 1; i >= 0; i-- {
		m := r.rows[i]
		if m.EndpointID != id || (f.Up != nil && m.Reachable != *f.Up) || m.Timestamp.Before(f.Since) {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *MetricRepo) Count(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.rows {
		if m.EndpointID == id {
			n++
		}
	}
	return n
}

type AlertRepo struct {
	mu   sync.Mutex
	rows []*alert.Alert

	// Err, when set, fails Create.
	Err error
}

func NewAlertRepo() *AlertRepo { return &AlertRepo{} }

func (r *AlertRepo) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *AlertRepo) ListByEndpoint(_ context.Context, id uuid.UUID, limit int) ([]*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*alert.Alert
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].EndpointID != id {
			continue
		}
		cp := *r.rows[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
