package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/errs"
)

type contextKey string

const txKey contextKey = "db_tx"

// TxFromContext returns the transaction opened by a Runner, if the context
// carries one. Repositories use this to join the caller's transaction.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Runner executes fn inside a single database transaction. Services depend
// on this function type rather than on a pool so tests can substitute a
// passthrough.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewRunner returns a Runner backed by pool. The open transaction is stashed
// in the context handed to fn, so every repository call inside fn, audit
// writes included, shares one transaction and commits or rolls back as a
// unit. Nested calls join the already-open transaction.
func NewRunner(pool *pgxpool.Pool) Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if TxFromContext(ctx) != nil {
			return fn(ctx)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
			return translateTxError(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return translateTxError(fmt.Errorf("commit transaction: %w", err))
		}
		return nil
	}
}

// Passthrough returns a Runner that invokes fn directly with no transaction.
// Intended for service tests running against in-memory repositories.
func Passthrough() Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
}

// translateTxError surfaces serialization failures and deadlocks as
// concurrency conflicts so callers know a single retry is safe.
func translateTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return errs.Wrap(errs.KindConcurrencyConflict, err, "transaction conflict")
		}
	}
	return err
}
