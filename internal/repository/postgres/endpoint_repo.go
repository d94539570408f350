package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ endpoint.Repo = (*EndpointRepoImpl)(nil)

type EndpointRepoImpl struct {
	db *DB
}

func NewEndpointRepo(db *DB) *EndpointRepoImpl { return &EndpointRepoImpl{db: db} }

const endpointCols = `id, name, url, interval_sec, max_latency_ms, contact, active, last_checked_at, schedule_ref::text, created_at, updated_at`

const (
	qEndpointByID = `
SELECT ` + endpointCols + `
FROM endpoints
WHERE id = $1;`

	qEndpointsActive = `
SELECT ` + endpointCols + `
FROM endpoints
WHERE active = TRUE
ORDER BY created_at;`

	qEndpointsInactiveScheduled = `
SELECT ` + endpointCols + `
FROM endpoints
WHERE active = FALSE AND schedule_ref IS NOT NULL;`

	qEndpointSetRef = `
UPDATE endpoints
SET schedule_ref = $2::uuid, updated_at = now()
WHERE id = $1
RETURNING active;`

	qEndpointClearRef = `
UPDATE endpoints
SET schedule_ref = NULL, updated_at = now()
WHERE id = $1;`

	qEndpointTouch = `
UPDATE endpoints
SET last_checked_at = $2
WHERE id = $1;`

	qEndpointSetActive = `
UPDATE endpoints
SET active       = $2,
    schedule_ref = CASE WHEN $2 THEN schedule_ref ELSE NULL END,
    updated_at   = now()
WHERE id = $1
RETURNING ` + endpointCols + `;`

	qEndpointDeactivate = `
WITH old AS (
    SELECT id, schedule_ref FROM endpoints WHERE id = $1 FOR UPDATE
)
UPDATE endpoints e
SET active = FALSE, schedule_ref = NULL, updated_at = now()
FROM old
WHERE e.id = old.id
RETURNING old.schedule_ref::text;`
)

func scanEndpoint(row pgx.Row, e *endpoint.Endpoint) error {
	var (
		intervalSec int
		contact     *string
		ref         *string
	)
	if err := row.Scan(
		&e.ID,
		&e.Name,
		&e.URL,
		&intervalSec,
		&e.MaxLatencyMS,
		&contact,
		&e.Active,
		&e.LastCheckedAt,
		&ref,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return endpoint.ErrNotFound
		}
		return fmt.Errorf("scan endpoint: %w", err)
	}
	e.Interval = time.Duration(intervalSec) * time.Second
	e.Contact = derefString(contact)
	e.ScheduleRef = task.Handle(derefString(ref))
	return nil
}

func (r *EndpointRepoImpl) GetByID(ctx context.Context, id uuid.UUID) (*endpoint.Endpoint, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var e endpoint.Endpoint
	if err := scanEndpoint(r.db.execQueryer(ctx).QueryRow(ctx, qEndpointByID, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EndpointRepoImpl) ListActive(ctx context.Context) ([]*endpoint.Endpoint, error) {
	return r.list(ctx, qEndpointsActive)
}

func (r *EndpointRepoImpl) ListInactiveScheduled(ctx context.Context) ([]*endpoint.Endpoint, error) {
	return r.list(ctx, qEndpointsInactiveScheduled)
}

func (r *EndpointRepoImpl) list(ctx context.Context, q string) ([]*endpoint.Endpoint, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var out []*endpoint.Endpoint
	for rows.Next() {
		var e endpoint.Endpoint
		if err := scanEndpoint(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *EndpointRepoImpl) SetScheduleRef(ctx context.Context, id uuid.UUID, ref task.Handle) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var active bool
	err := r.db.execQueryer(ctx).QueryRow(ctx, qEndpointSetRef, id, nullString(ref.String())).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return endpoint.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set schedule ref: %w", err)
	}
	if !active {
		// returning an error rolls the surrounding transaction back
		return endpoint.ErrInactive
	}
	return nil
}

func (r *EndpointRepoImpl) ClearScheduleRef(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qEndpointClearRef, id); err != nil {
		return fmt.Errorf("clear schedule ref: %w", err)
	}
	return nil
}

func (r *EndpointRepoImpl) TouchLastChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qEndpointTouch, id, at)
	if err != nil {
		return fmt.Errorf("touch last_checked_at: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}

func (r *EndpointRepoImpl) SetActive(ctx context.Context, id uuid.UUID, active bool) (*endpoint.Endpoint, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var e endpoint.Endpoint
	if err := scanEndpoint(r.db.execQueryer(ctx).QueryRow(ctx, qEndpointSetActive, id, active), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EndpointRepoImpl) Deactivate(ctx context.Context, id uuid.UUID) (task.Handle, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ref *string
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qEndpointDeactivate, id).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", endpoint.ErrNotFound
		}
		return "", fmt.Errorf("deactivate endpoint: %w", err)
	}
	return task.Handle(derefString(ref)), nil
}
