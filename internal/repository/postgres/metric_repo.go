package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/google/uuid"
)

var _ metric.Repo = (*MetricRepoImpl)(nil)

type MetricRepoImpl struct{ db *DB }

func NewMetricRepo(db *DB) *MetricRepoImpl { return &MetricRepoImpl{db: db} }

const (
	qMetricInsert = `
INSERT INTO metrics (endpoint_id, ts, status_code, latency_ms, reachable, classification, error)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	qMetricsByEndpoint = `
SELECT endpoint_id, ts, status_code, latency_ms, reachable, classification, error
FROM metrics
WHERE endpoint_id = $1
  AND ($2::boolean IS NULL OR reachable = $2)
  AND ($3::timestamptz IS NULL OR ts >= $3)
ORDER BY ts DESC
LIMIT $4;`
)

func (r *MetricRepoImpl) Insert(ctx context.Context, m *metric.Metric) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qMetricInsert,
		m.EndpointID,
		m.Timestamp,
		m.StatusCode,
		m.LatencyMS,
		m.Reachable,
		string(m.Class),
		m.Error,
	); err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

func (r *MetricRepoImpl) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, f metric.Filter) ([]*metric.Metric, error) {
	limit := min(f.Limit, metric.MaxLimit)
	if limit <= 0 {
		limit = metric.DefaultLimit
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qMetricsByEndpoint, endpointID, f.Up, nullTime(f.Since), limit)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := make([]*metric.Metric, 0, limit)
	for rows.Next() {
		var (
			m     metric.Metric
			class string
		)
		if err := rows.Scan(&m.EndpointID, &m.Timestamp, &m.StatusCode, &m.LatencyMS, &m.Reachable, &class, &m.Error); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Class = metric.Classification(class)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
