package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var mTx = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_db_tx_total",
	Help: "Transactions by result (commit, rollback, commit_error, begin_error).",
}, []string{"result"})

// Transactor runs fn inside one transaction. Repositories called with the
// context handed to fn join that transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Transactor = (*transactor)(nil)

type transactor struct {
	db  *DB
	log *zap.Logger
}

func NewTransactor(db *DB, log *zap.Logger) Transactor {
	return &transactor{db: db, log: obs.Component(log, "postgres.tx")}
}

// WithTx nests: an inner call joins the outer transaction and the outer call
// owns commit and rollback. A panic in fn rolls back and is re-raised.
func (t *transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) (txErr error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	ctx, span := otel.Tracer("postgres").Start(ctx, "postgres.tx")
	defer span.End()

	tx, err := t.db.Pool.Begin(ctx)
	if err != nil {
		mTx.WithLabelValues("begin_error").Inc()
		obs.SpanError(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			t.rollback(ctx, tx)
			panic(p)
		}
		if txErr != nil {
			t.rollback(ctx, tx)
			obs.SpanError(span, txErr)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			mTx.WithLabelValues("commit_error").Inc()
			obs.SpanError(span, err)
			txErr = fmt.Errorf("commit: %w", err)
			return
		}
		mTx.WithLabelValues("commit").Inc()
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

func (t *transactor) rollback(ctx context.Context, tx pgx.Tx) {
	mTx.WithLabelValues("rollback").Inc()
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		obs.WithTrace(ctx, t.log).Error("rollback", zap.Error(err))
	}
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

func inTx(ctx context.Context) bool {
	_, ok := txFrom(ctx)
	return ok
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction carried by ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db.Pool
}
