package scope

import (
	"errors"
	"fmt"
)

// Operation names carried by Error.Op.
const (
	OpNew      = "new"
	OpOpen     = "open"
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfiguration        = errors.New("invalid configuration")
	ErrOpen                 = errors.New("failed to open connection")
	ErrTransactionStart     = errors.New("failed to start transaction")
	ErrCommit               = errors.New("failed to commit transaction")
	ErrRollback             = errors.New("failed to roll back transaction")
	ErrAlreadyInTransaction = errors.New("transaction already in progress")
	ErrClosed               = errors.New("scope is closed")
)

// Error reports a failed scope operation. Err holds the underlying cause,
// usually the driver error, and stays reachable through errors.As and
// IsDeadlock.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dbscope %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("dbscope %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}
