// Package types contains the driver-facing contracts shared by the dbscope
// packages. They are kept apart from the scope package so drivers and test
// fakes can implement them without import cycles.
//
//revive:disable-next-line:var-naming // Package name "types" avoids circular imports.
package types

import (
	"context"
	"errors"

	"github.com/gaborage/dbscope/database/connstr"
)

// Database vendor identifiers shared across the database packages.
type Vendor = string

const (
	PostgreSQL Vendor = "postgresql"
	Oracle     Vendor = "oracle"
	SQLServer  Vendor = "sqlserver"
	SQLite     Vendor = "sqlite"
)

// ErrReleased is returned by a Conn or Tx used after it was released.
var ErrReleased = errors.New("resource already released")

// ConnState is the observed state of a connection.
type ConnState int

const (
	// StateUnopened means the connection was constructed but never opened.
	StateUnopened ConnState = iota
	// StateOpen means the session is believed to be usable.
	StateOpen
	// StateClosed covers both released and broken sessions.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one logical database session.
//
// A Conn starts unopened. Open may be called again after the session was
// observed closed or broken; it must not be called after Close.
type Conn interface {
	// Open establishes the session. It blocks until the server answers or
	// ctx is done.
	Open(ctx context.Context) error

	// State reports the last observed state without network I/O.
	State() ConnState

	// BeginTx starts a transaction on this session at the given level.
	BeginTx(ctx context.Context, level IsolationLevel) (Tx, error)

	// Close releases the session. Further use returns ErrReleased.
	Close() error
}

// Tx is a transaction bound to exactly one Conn.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Close releases the transaction resource. It does not commit or roll
	// back; callers end the transaction first.
	Close() error
}

// Driver is the factory and error vocabulary of one database vendor.
type Driver interface {
	// Vendor returns the vendor identifier, e.g. "postgresql".
	Vendor() Vendor

	// Validate checks that the descriptor can be turned into a vendor
	// connection without contacting the server.
	Validate(d *connstr.Descriptor) error

	// Connect builds an unopened Conn for the descriptor.
	Connect(d *connstr.Descriptor) (Conn, error)

	// IsClientError reports whether err itself (not its causes) is an error
	// raised by the vendor's database client or server.
	IsClientError(err error) bool
}
