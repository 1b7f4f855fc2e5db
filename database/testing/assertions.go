package testing

import "testing"

// AssertCommitted asserts that tx was committed exactly once, never rolled
// back, and released.
//
// Example:
//
//	err := scope.Run(ctx, m, types.LevelReadCommitted, work)
//	AssertCommitted(t, drv.LastConn().LastTx())
func AssertCommitted(t *testing.T, tx *TestTx) {
	t.Helper()
	if tx == nil {
		t.Error("expected a transaction, got none")
		return
	}
	if !tx.IsCommitted() || tx.Commits() != 1 {
		t.Errorf("expected transaction to be committed once (commits=%d, committed=%v)", tx.Commits(), tx.IsCommitted())
	}
	if tx.Rollbacks() != 0 {
		t.Errorf("expected no rollback after commit, got %d", tx.Rollbacks())
	}
	if tx.Closes() != 1 {
		t.Errorf("expected transaction to be released once, got %d", tx.Closes())
	}
}

// AssertRolledBack asserts that tx was never committed, rolled back exactly
// once and released.
func AssertRolledBack(t *testing.T, tx *TestTx) {
	t.Helper()
	if tx == nil {
		t.Error("expected a transaction, got none")
		return
	}
	if tx.IsCommitted() {
		t.Error("expected transaction to be rolled back, but it was committed")
	}
	if tx.Rollbacks() != 1 {
		t.Errorf("expected exactly one rollback, got %d", tx.Rollbacks())
	}
	if tx.Closes() != 1 {
		t.Errorf("expected transaction to be released once, got %d", tx.Closes())
	}
}

// AssertReleased asserts that conn was closed exactly once.
func AssertReleased(t *testing.T, conn *TestConn) {
	t.Helper()
	if conn == nil {
		t.Error("expected a connection, got none")
		return
	}
	if conn.Closes() != 1 {
		t.Errorf("expected connection to be released once, got %d", conn.Closes())
	}
}

// AssertOpenCount asserts the number of physical Open calls on conn.
func AssertOpenCount(t *testing.T, conn *TestConn, expected int) {
	t.Helper()
	if conn == nil {
		t.Error("expected a connection, got none")
		return
	}
	if got := conn.Opens(); got != expected {
		t.Errorf("expected %d open calls, got %d", expected, got)
	}
}
