package endpoint

import (
	"context"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
)

type Repo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	ListActive(ctx context.Context) ([]*Endpoint, error)
	// ListInactiveScheduled returns inactive endpoints that still hold a schedule reference.
	ListInactiveScheduled(ctx context.Context) ([]*Endpoint, error)
	// SetScheduleRef replaces the reference of an active endpoint. ErrInactive when
	// the endpoint exists but is not active.
	SetScheduleRef(ctx context.Context, id uuid.UUID, ref task.Handle) error
	ClearScheduleRef(ctx context.Context, id uuid.UUID) error
	TouchLastChecked(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Endpoint, error)
	// Deactivate marks the endpoint inactive and clears its reference in one
	// step, returning the reference it cleared.
	Deactivate(ctx context.Context, id uuid.UUID) (task.Handle, error)
}
