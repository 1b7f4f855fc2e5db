package testing

import (
	"context"
	"sync"

	"github.com/gaborage/dbscope/database/types"
)

// TestTx implements types.Tx in memory and records commit, rollback and
// release calls.
type TestTx struct {
	conn        *TestConn
	level       types.IsolationLevel
	commitErrs  []error
	rollbackErr error
	stall       <-chan struct{}
	closeErr    error
	commits     int
	rollbacks   int
	closes      int
	committed   bool
	rolledBack  bool
	mu          sync.Mutex
}

var _ types.Tx = (*TestTx)(nil)

// WillFailCommit queues errors returned by successive Commit calls.
func (tx *TestTx) WillFailCommit(errs ...error) *TestTx {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.commitErrs = append(tx.commitErrs, errs...)
	return tx
}

// WillFailRollback makes Rollback return err.
func (tx *TestTx) WillFailRollback(err error) *TestTx {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.rollbackErr = err
	return tx
}

// WillStallRollback makes Rollback hang until release is closed, ignoring
// its context, like a rollback sent to a server that stopped answering.
func (tx *TestTx) WillStallRollback(release <-chan struct{}) *TestTx {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.stall = release
	return tx
}

// WillFailClose makes Close return err.
func (tx *TestTx) WillFailClose(err error) *TestTx {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.closeErr = err
	return tx
}

// Commit consumes the next queued failure or marks the transaction committed.
func (tx *TestTx) Commit(context.Context) error {
	tx.mu.Lock()
	tx.commits++
	var err error
	if len(tx.commitErrs) > 0 {
		err, tx.commitErrs = tx.commitErrs[0], tx.commitErrs[1:]
	} else {
		tx.committed = true
	}
	tx.mu.Unlock()

	tx.conn.driver.record(EventCommit)
	return err
}

// Rollback records the call and returns the configured failure.
func (tx *TestTx) Rollback(context.Context) error {
	tx.mu.Lock()
	tx.rollbacks++
	err := tx.rollbackErr
	stall := tx.stall
	tx.mu.Unlock()

	if stall != nil {
		<-stall
	}

	tx.mu.Lock()
	if err == nil {
		tx.rolledBack = true
	}
	tx.mu.Unlock()

	tx.conn.driver.record(EventRollback)
	return err
}

// Close records the release.
func (tx *TestTx) Close() error {
	tx.mu.Lock()
	tx.closes++
	err := tx.closeErr
	tx.mu.Unlock()

	tx.conn.driver.record(EventTxClose)
	return err
}

// Level returns the isolation level the transaction was begun with.
func (tx *TestTx) Level() types.IsolationLevel {
	return tx.level
}

// Commits returns the number of Commit calls.
func (tx *TestTx) Commits() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.commits
}

// Rollbacks returns the number of Rollback calls.
func (tx *TestTx) Rollbacks() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rollbacks
}

// Closes returns the number of Close calls.
func (tx *TestTx) Closes() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.closes
}

// IsCommitted reports whether a Commit call succeeded.
func (tx *TestTx) IsCommitted() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.committed
}

// IsRolledBack reports whether a Rollback call succeeded.
func (tx *TestTx) IsRolledBack() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rolledBack
}
