package metric

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Insert(ctx context.Context, m *Metric) error
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, f Filter) ([]*Metric, error)
}
