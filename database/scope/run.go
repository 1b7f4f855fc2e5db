package scope

import (
	"context"

	"github.com/gaborage/dbscope/database/types"
)

// Work is a unit of work executed inside a transaction.
type Work func(ctx context.Context, tx types.Tx) error

// Run begins a transaction at level, runs fn and commits when fn succeeds.
// m is closed on every exit path, including a panic in fn, which is re-raised
// after cleanup. Errors from fn or Commit are returned as they are; a cleanup
// error is returned only when everything before it succeeded.
func Run(ctx context.Context, m *Manager, level types.IsolationLevel, fn Work) (err error) {
	defer func() {
		recovered := recover()
		closeErr := m.CloseContext(context.WithoutCancel(ctx))
		if recovered != nil {
			panic(recovered)
		}
		if closeErr == nil {
			return
		}
		if err == nil {
			err = closeErr
			return
		}
		m.log.Warn().Err(closeErr).Msg("Cleanup failed after unit of work error")
	}()

	if err := m.BeginTransaction(ctx, level); err != nil {
		return err
	}
	if err := fn(ctx, m.Transaction()); err != nil {
		return err
	}
	return m.Commit(ctx)
}

// WithManager creates a Manager for connectionString and runs fn in it with
// Run. The Manager is closed before WithManager returns.
func WithManager(ctx context.Context, connectionString string, driver types.Driver, level types.IsolationLevel, fn Work, opts ...Option) error {
	m, err := New(connectionString, driver, opts...)
	if err != nil {
		return err
	}
	return Run(ctx, m, level, fn)
}
