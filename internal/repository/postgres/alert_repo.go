package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/google/uuid"
)

var _ alert.Repo = (*AlertRepoImpl)(nil)

type AlertRepoImpl struct{ db *DB }

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const (
	qAlertInsert = `
INSERT INTO alerts (id, endpoint_id, triggered_at, message, channel)
VALUES ($1, $2, COALESCE($3, now()), $4, $5)
RETURNING triggered_at;`

	qAlertsByEndpoint = `
SELECT id, endpoint_id, triggered_at, message, channel
FROM alerts
WHERE endpoint_id = $1
ORDER BY triggered_at DESC
LIMIT $2;`
)

func (r *AlertRepoImpl) Create(ctx context.Context, a *alert.Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qAlertInsert,
		a.ID,
		a.EndpointID,
		nullTime(a.TriggeredAt),
		a.Message,
		a.Channel,
	).Scan(&a.TriggeredAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert alert %s: %w", a.ID, ErrConflict)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepoImpl) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*alert.Alert, error) {
	limit = min(limit, alert.MaxLimit)
	if limit <= 0 {
		limit = alert.DefaultLimit
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qAlertsByEndpoint, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*alert.Alert, 0, limit)
	for rows.Next() {
		var a alert.Alert
		if err := rows.Scan(&a.ID, &a.EndpointID, &a.TriggeredAt, &a.Message, &a.Channel); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
