package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	_ task.Queue   = (*TaskRepo)(nil)
	_ task.Claimer = (*TaskRepo)(nil)
)

// TaskRepo keeps deferred checks in the scheduled_checks table. Submit joins a
// transaction carried by ctx, so a check and its schedule reference commit together.
type TaskRepo struct{ db *DB }

func NewTaskRepo(db *DB) *TaskRepo { return &TaskRepo{db: db} }

const (
	qTaskInsert = `
INSERT INTO scheduled_checks (id, endpoint_id, run_at, state)
VALUES ($1, $2, now() + $3::interval, 'PENDING');`

	qTaskRevoke = `
UPDATE scheduled_checks
SET state = 'REVOKED', finished_at = now()
WHERE id = $1 AND state = 'PENDING';`

	qTaskState = `
SELECT state
FROM scheduled_checks
WHERE id = $1;`

	qTaskInspect = `
SELECT state, started_at
FROM scheduled_checks
WHERE id = $1;`

	qTaskClaim = `
WITH due AS (
   SELECT id
   FROM scheduled_checks
   WHERE state = 'PENDING' AND run_at <= now()
   ORDER BY run_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
)
UPDATE scheduled_checks s
SET state = 'STARTED', started_at = now()
FROM due
WHERE s.id = due.id
RETURNING s.id::text, s.endpoint_id, s.run_at;`

	qTaskRelease = `
UPDATE scheduled_checks
SET state = 'PENDING', run_at = now() + $2::interval, started_at = NULL
WHERE id = $1 AND state = 'STARTED';`

	qTaskComplete = `
UPDATE scheduled_checks
SET state = 'DONE', finished_at = now()
WHERE id = $1 AND state = 'STARTED';`
)

func interval(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%f seconds", d.Seconds())
}

func parseHandle(h task.Handle) (uuid.UUID, bool) {
	id, err := uuid.Parse(h.String())
	return id, err == nil
}

func (r *TaskRepo) Submit(ctx context.Context, d task.Descriptor, delay time.Duration) (task.Handle, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	h := task.NewHandle()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qTaskInsert, h.String(), d.EndpointID, interval(delay)); err != nil {
		return "", fmt.Errorf("submit check: %w", err)
	}
	return h, nil
}

func (r *TaskRepo) Cancel(ctx context.Context, h task.Handle) (task.CancelOutcome, error) {
	id, ok := parseHandle(h)
	if !ok {
		return task.Unknown, nil
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	cmd, err := eq.Exec(ctx, qTaskRevoke, id)
	if err != nil {
		return "", fmt.Errorf("revoke check: %w", err)
	}
	if cmd.RowsAffected() == 1 {
		return task.Cancelled, nil
	}

	st, err := r.state(ctx, eq, id)
	if err != nil {
		return "", err
	}
	switch st {
	case task.StateUnknown:
		return task.Unknown, nil
	case task.StateRevoked:
		return task.Cancelled, nil
	default:
		return task.AlreadyStarted, nil
	}
}

func (r *TaskRepo) State(ctx context.Context, h task.Handle) (task.State, error) {
	id, ok := parseHandle(h)
	if !ok {
		return task.StateUnknown, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	return r.state(ctx, r.db.execQueryer(ctx), id)
}

func (r *TaskRepo) state(ctx context.Context, eq execQueryer, id uuid.UUID) (task.State, error) {
	var s string
	err := eq.QueryRow(ctx, qTaskState, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.StateUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("check state: %w", err)
	}
	return task.State(s), nil
}

func (r *TaskRepo) Inspect(ctx context.Context, h task.Handle) (task.Status, error) {
	id, ok := parseHandle(h)
	if !ok {
		return task.Status{State: task.StateUnknown}, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		st      string
		started *time.Time
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qTaskInspect, id).Scan(&st, &started)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Status{State: task.StateUnknown}, nil
	}
	if err != nil {
		return task.Status{}, fmt.Errorf("inspect check: %w", err)
	}
	out := task.Status{State: task.State(st)}
	if started != nil {
		out.StartedAt = *started
	}
	return out, nil
}

func (r *TaskRepo) Ping(ctx context.Context) error { return r.db.Ping(ctx) }

func (r *TaskRepo) ClaimDue(ctx context.Context, limit int) ([]task.Claim, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTaskClaim, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due checks: %w", err)
	}
	defer rows.Close()

	var out []task.Claim
	for rows.Next() {
		var (
			c  task.Claim
			id string
		)
		if err := rows.Scan(&id, &c.EndpointID, &c.DueAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Handle = task.Handle(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Release(ctx context.Context, h task.Handle, delay time.Duration) error {
	id, ok := parseHandle(h)
	if !ok {
		return task.ErrUnknownHandle
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qTaskRelease, id, interval(delay)); err != nil {
		return fmt.Errorf("release check: %w", err)
	}
	return nil
}

func (r *TaskRepo) Complete(ctx context.Context, h task.Handle) error {
	id, ok := parseHandle(h)
	if !ok {
		return task.ErrUnknownHandle
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qTaskComplete, id); err != nil {
		return fmt.Errorf("complete check: %w", err)
	}
	return nil
}
