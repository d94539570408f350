package engine

import (
	"context"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/google/uuid"
)

// Recorder stores exactly one metric per cycle together with the endpoint's
// last-checked timestamp.
type Recorder struct {
	tx        postgres.Transactor
	metrics   metric.Repo
	endpoints endpoint.Repo
}

func NewRecorder(tx postgres.Transactor, metrics metric.Repo, endpoints endpoint.Repo) *Recorder {
	return &Recorder{tx: tx, metrics: metrics, endpoints: endpoints}
}

func (r *Recorder) Persist(ctx context.Context, endpointID uuid.UUID, o metric.Outcome, at time.Time) (*metric.Metric, error) {
	m := metric.FromOutcome(endpointID, o, at)
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := r.metrics.Insert(ctx, m); err != nil {
			return err
		}
		return r.endpoints.TouchLastChecked(ctx, endpointID, at)
	})
	if err != nil {
		return nil, &PersistenceError{EndpointID: endpointID, Err: err}
	}
	return m, nil
}
