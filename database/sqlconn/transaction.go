package sqlconn

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gaborage/dbscope/database/types"
)

// Transaction wraps sql.Tx to implement types.Tx. Statement helpers are
// provided so repository code can run work inside the ambient transaction.
type Transaction struct {
	tx       *sql.Tx
	conn     *Conn
	released bool
}

var _ types.Tx = (*Transaction)(nil)

// Commit commits the transaction
func (t *Transaction) Commit(_ context.Context) error {
	if t.released {
		return types.ErrReleased
	}
	err := t.tx.Commit()
	t.conn.observe(err)
	return err
}

// Rollback rolls back the transaction. Rolling back a transaction that
// database/sql already finished is not an error.
func (t *Transaction) Rollback(_ context.Context) error {
	if t.released {
		return types.ErrReleased
	}
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	t.conn.observe(err)
	return err
}

// Close releases the wrapper. database/sql frees the underlying resources
// when the transaction ends, so there is nothing else to do.
func (t *Transaction) Close() error {
	t.released = true
	return nil
}

// Query executes a query within the transaction
func (t *Transaction) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	t.conn.observe(err)
	return rows, err
}

// QueryRow executes a query that returns a single row within the transaction
func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Exec executes a query without returning rows within the transaction
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	t.conn.observe(err)
	return result, err
}

// SQL exposes the underlying *sql.Tx.
func (t *Transaction) SQL() *sql.Tx {
	return t.tx
}
