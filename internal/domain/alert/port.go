package alert

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Create(ctx context.Context, a *Alert) error
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Alert, error)
}
