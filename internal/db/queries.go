/*-------------------------------------------------------------------------
 *
 * queries.go
 *    Query executor shared by all ledger tables
 *
 * Queries runs against either the pool or a transaction. Transaction-bound
 * copies are produced by RunInTx and support savepoints so one failing step
 * can be rolled back without aborting the surrounding transaction.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/neurondb/NeuronLedger/internal/utils"
)

/* Queries wraps database queries */
type Queries struct {
	DB       *sqlx.DB
	ext      sqlx.ExtContext
	tx       *sqlx.Tx
	connInfo func() string
}

/* NewQueries creates a new Queries instance */
func NewQueries(db *sqlx.DB) *Queries {
	return &Queries{DB: db, ext: db}
}

/* SetConnInfoFunc sets a function to get connection info for error messages */
func (q *Queries) SetConnInfoFunc(fn func() string) {
	q.connInfo = fn
}

/* getConnInfoString returns connection info string for error messages */
func (q *Queries) getConnInfoString() string {
	if q.connInfo != nil {
		return q.connInfo()
	}
	return "unknown database connection"
}

/* formatQueryError formats a query error with full context */
func (q *Queries) formatQueryError(operation, query string, paramCount int, table string, err error) error {
	queryContext := utils.FormatQueryContext(query, paramCount, operation, table)
	return fmt.Errorf("query execution failed on %s: %s, error=%w", q.getConnInfoString(), queryContext, err)
}

/* InTx reports whether the Queries is bound to a transaction */
func (q *Queries) InTx() bool {
	return q.tx != nil
}

/* RunInTx runs fn inside one transaction, committing only if fn returns nil */
func (q *Queries) RunInTx(ctx context.Context, fn func(tq *Queries) error) (err error) {
	if q.tx != nil {
		return fn(q)
	}

	tx, err := q.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction on %s: error=%w", q.getConnInfoString(), err)
	}

	tq := &Queries{DB: q.DB, ext: tx, tx: tx, connInfo: q.connInfo}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tq); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction on %s: error=%w", q.getConnInfoString(), err)
	}
	return nil
}

/*
 * Savepoint runs fn under a named savepoint. When fn fails the work done
 * since the savepoint is rolled back and the transaction stays usable.
 */
func (q *Queries) Savepoint(ctx context.Context, name string, fn func() error) error {
	if q.tx == nil {
		return fn()
	}

	ident := pq.QuoteIdentifier(name)
	if _, err := q.ext.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("failed to create savepoint on %s: savepoint='%s', error=%w", q.getConnInfoString(), name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := q.ext.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return fmt.Errorf("failed to roll back to savepoint on %s: savepoint='%s', error=%w (original error: %v)", q.getConnInfoString(), name, rbErr, err)
		}
		return err
	}

	if _, err := q.ext.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("failed to release savepoint on %s: savepoint='%s', error=%w", q.getConnInfoString(), name, err)
	}
	return nil
}

/* IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation */
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
